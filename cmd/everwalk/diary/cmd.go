// Package diarycmd implements the `everwalk diary` command group.
package diarycmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
)

// Command implements `everwalk diary`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the diary command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "diary",
		Short: "Read, write, search and export pet diaries",
	}
	c.cmd.AddCommand(
		newList(ctx),
		newGet(ctx),
		newCreate(ctx),
		newRead(ctx),
		newUnread(ctx),
		newSearch(ctx),
		newExport(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func newList(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pet-id>",
		Short: "List a pet's diary entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.ListDiary(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Diaries(entries)
		},
	}
}

func newGet(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "get <diary-id>",
		Short: "Show one diary entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shared.ParseID("diary", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			e, err := svc.GetDiary(cmd.Context(), id)
			if err != nil {
				return err
			}
			return r.Diary(e)
		},
	}
}

func newCreate(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "create <pet-id>",
		Short: "Have the pet write a new diary entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			e, err := svc.CreateDiary(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Diary(e)
		},
	}
}

func newRead(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "read <diary-id>",
		Short: "Mark a diary entry as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shared.ParseID("diary", args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.Service()
			if err != nil {
				return err
			}
			defer svc.Close()

			changed, err := svc.MarkDiaryRead(cmd.Context(), id)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked diary %d as read\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Diary %d was already read\n", id)
			}
			return nil
		},
	}
}

func newUnread(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "unread <pet-id>",
		Short: "Count unread diary entries of a pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.UnreadDiaries(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Count("Unread diary entries", n)
		},
	}
}

func newSearch(ctx *shared.Context) *cobra.Command {
	var petID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search diary entries fetched to this client",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.SearchDiary(cmd.Context(), strings.Join(args, " "), petID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 && !r.JSON() {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching diary entries.")
				return nil
			}
			return r.Diaries(entries)
		},
	}
	cmd.Flags().Int64Var(&petID, "pet", 0, "Limit to one pet")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	return cmd
}

func newExport(ctx *shared.Context) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <pet-id>",
		Short: "Write a pet's diary to a Markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.Service()
			if err != nil {
				return err
			}
			defer svc.Close()

			path, err := svc.ExportDiary(cmd.Context(), petID, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Output directory (default <home>/exports)")
	return cmd
}
