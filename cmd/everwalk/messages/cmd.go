// Package messagescmd implements the `everwalk messages` command group.
package messagescmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
)

// Command implements `everwalk messages`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the messages command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "messages",
		Short: "Talk with a pet",
	}
	c.cmd.AddCommand(
		newList(ctx),
		newSend(ctx),
		newRead(ctx),
		newUnread(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func newList(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pet-id>",
		Short: "Show the conversation with a pet",
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

			msgs, err := svc.ListMessages(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Messages(msgs)
		},
	}
}

func newSend(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "send <pet-id> <text...>",
		Short: "Send a message to a pet",
		Args:  cobra.MinimumNArgs(2),
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

			msg, err := svc.SendMessage(cmd.Context(), petID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if msg == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing to send.")
				return nil
			}
			return r.Message(msg)
		},
	}
}

func newRead(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := shared.ParseID("message", args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.Service()
			if err != nil {
				return err
			}
			defer svc.Close()

			changed, err := svc.MarkMessageRead(cmd.Context(), id)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked message %d as read\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Message %d was already read\n", id)
			}
			return nil
		},
	}
}

func newUnread(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "unread <pet-id>",
		Short: "Count unread messages from a pet",
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

			n, err := svc.UnreadMessages(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Count("Unread messages", n)
		},
	}
}
