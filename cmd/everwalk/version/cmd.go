// Package versioncmd implements the `everwalk version` command.
package versioncmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	"github.com/go-ports/everwalk/internal/buildinfo"
)

// Command implements `everwalk version`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the version command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	r, err := c.ctx.Renderer(cmd, nil)
	if err != nil {
		return err
	}
	if r.JSON() {
		return r.Value(map[string]string{
			"version":   buildinfo.Version,
			"buildDate": buildinfo.BuildDate,
			"gitCommit": buildinfo.GitCommit,
			"gitBranch": buildinfo.GitBranch,
		})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Summary())
	return err
}
