// Package petscmd implements the `everwalk pets` command group.
package petscmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	"github.com/go-ports/everwalk/internal/models"
)

// Command implements `everwalk pets`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the pets command group. Without a subcommand it lists pets.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "pets",
		Short: "Manage registered pets",
		RunE:  c.runList,
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered pets",
		RunE:  c.runList,
	}
	c.cmd.AddCommand(
		list,
		newGet(ctx),
		newCreate(ctx),
		newDelete(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) runList(cmd *cobra.Command, _ []string) error {
	svc, r, err := c.ctx.Open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	pets, err := svc.ListPets(cmd.Context())
	if err != nil {
		return err
	}
	return r.Pets(pets)
}

func newGet(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "get <pet-id>",
		Short: "Show one pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			pet, err := svc.GetPet(cmd.Context(), id)
			if err != nil {
				return err
			}
			return r.Pet(pet)
		},
	}
}

func newCreate(ctx *shared.Context) *cobra.Command {
	var in models.CreatePetInput
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a pet from one or more photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			pet, err := svc.CreatePet(cmd.Context(), &in)
			if err != nil {
				return err
			}
			if r.JSON() {
				return r.Pet(pet)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered: %s (id: %d)\n", pet.Name, pet.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&in.ImageURLs, "image", nil, "Photo URL (repeatable, at least one)")
	f.StringVar(&in.Species, "species", "", "Species, e.g. dog or cat")
	f.StringVar(&in.MemorialDate, "memorial-date", "", "Memorial date (YYYY-MM-DD)")
	return cmd
}

func newDelete(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pet-id>",
		Short: "Remove a pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.Service()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.DeletePet(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted pet %d\n", id)
			return nil
		},
	}
}
