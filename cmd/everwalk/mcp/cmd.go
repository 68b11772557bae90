// Package mcpcmd implements the `everwalk mcp` command.
package mcpcmd

import (
	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	internalmcp "github.com/go-ports/everwalk/internal/mcp"
	"github.com/go-ports/everwalk/internal/service"
)

// Command implements `everwalk mcp`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the mcp command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "mcp",
		Short: "Start the EverWalk MCP server (stdio transport)",
		RunE:  c.run,
	}
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	var opts []service.Option
	if c.ctx.Server != "" {
		opts = append(opts, service.WithBaseURL(c.ctx.Server))
	}
	return internalmcp.Serve(cmd.Context(), c.ctx.Home, opts...)
}
