// Package shared holds the context passed to all CLI commands.
package shared

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/internal/render"
	"github.com/go-ports/everwalk/internal/service"
)

// Context carries global CLI state (flags set on the root command).
type Context struct {
	// Home overrides the client home directory.
	// When empty, resolution falls through to EVERWALK_HOME env var → persisted config → ~/.everwalk.
	Home string

	// Server overrides the backend API root from config and EVERWALK_SERVER_URL.
	Server string

	// Output is "text" or "json". Empty uses the config's output.format.
	Output string

	// JSONPath filters JSON output through an expression such as "$[*].name".
	JSONPath string

	Verbose bool
}

// Service opens the service for the selected home. Callers must Close it.
func (c *Context) Service() (*service.Service, error) {
	var opts []service.Option
	if c.Server != "" {
		opts = append(opts, service.WithBaseURL(c.Server))
	}
	return service.New(c.Home, opts...)
}

// Renderer builds the output renderer for cmd. The --output flag wins over
// the configured format.
func (c *Context) Renderer(cmd *cobra.Command, svc *service.Service) (*render.Renderer, error) {
	format := c.Output
	if format == "" && svc != nil {
		format = svc.Config.Output.Format
	}
	f, err := render.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return render.New(cmd.OutOrStdout(), f, c.JSONPath), nil
}

// Open returns the service and renderer used by most commands.
func (c *Context) Open(cmd *cobra.Command) (*service.Service, *render.Renderer, error) {
	svc, err := c.Service()
	if err != nil {
		return nil, nil, err
	}
	r, err := c.Renderer(cmd, svc)
	if err != nil {
		_ = svc.Close()
		return nil, nil, err
	}
	return svc, r, nil
}

// ParseID parses a positive numeric id argument.
func ParseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}
