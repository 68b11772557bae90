// Package configcmd implements the `everwalk config` command group.
package configcmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	"github.com/go-ports/everwalk/internal/config"
	"github.com/go-ports/everwalk/internal/redaction"
)

const configTemplate = `# EverWalk client configuration

server:
  base_url: http://localhost:8080/api   # backend API root
  timeout: 30s                          # per request; progress streams are not limited

output:
  format: text                          # text | json

log:
  level: warn                           # debug | info | warn | error
`

// Command implements `everwalk config`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the config command group. Without a subcommand it shows the
// effective configuration.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "config",
		Short: "Show or manage configuration",
		RunE:  c.runShow,
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE:  c.runShow,
	}
	c.cmd.AddCommand(
		show,
		newConfigInit(ctx),
		newSetServer(ctx),
		newSetHome(ctx),
		newClearHome(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) runShow(cmd *cobra.Command, _ []string) error {
	home, source := resolveHome(c.ctx)

	svc, err := c.ctx.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	sess, err := svc.Session.Current(cmd.Context())
	if err != nil {
		return err
	}
	cfg := svc.Config
	data := map[string]any{
		"server": map[string]any{
			"base_url": cfg.Server.BaseURL,
			"timeout":  cfg.Server.Timeout.String(),
		},
		"output": map[string]any{"format": cfg.Output.Format},
		"log":    map[string]any{"level": cfg.Log.Level},
		"session": map[string]any{
			"signed_in":     sess.IsAuthenticated(),
			"access_token":  redaction.Mask(sess.AccessToken),
			"refresh_token": redaction.Mask(sess.RefreshToken),
		},
		"home":        home,
		"home_source": source,
	}
	b, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(b))
	return nil
}

// ---------------------------------------------------------------------------
// config init
// ---------------------------------------------------------------------------

func newConfigInit(ctx *shared.Context) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, _ := resolveHome(ctx)
			cfgPath := filepath.Join(home, "config.yaml")
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				fmt.Fprintf(out, "Config already exists at %s\n", cfgPath)
				fmt.Fprintln(out, "Use --force to overwrite.")
				return nil
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, []byte(configTemplate), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created %s\n", cfgPath)
			fmt.Fprintln(out, "Edit server.base_url to point at your EverWalk backend.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

// ---------------------------------------------------------------------------
// config set-server
// ---------------------------------------------------------------------------

func newSetServer(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Persist the backend API root in config.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimRight(strings.TrimSpace(args[0]), "/")
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid server URL %q (want http:// or https://)", args[0])
			}

			home, _ := resolveHome(ctx)
			cfgPath := filepath.Join(home, "config.yaml")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg.Server.BaseURL = raw
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server set to %s\n", raw)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// config set-home
// ---------------------------------------------------------------------------

func newSetHome(_ *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set-home <path>",
		Short: "Persist the client home location (used when EVERWALK_HOME is unset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.SetPersistedHome(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(resolved, 0o700); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Persisted home: %s\n", resolved)
			fmt.Fprintln(out, "Override anytime with EVERWALK_HOME.")
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// config clear-home
// ---------------------------------------------------------------------------

func newClearHome(_ *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-home",
		Short: "Remove the persisted home location from global config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed, err := config.ClearPersistedHome()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if changed {
				fmt.Fprintln(out, "Cleared persisted home setting.")
			} else {
				fmt.Fprintln(out, "No persisted home setting was found.")
			}
			return nil
		},
	}
}

func resolveHome(ctx *shared.Context) (home, source string) {
	if ctx.Home != "" {
		return ctx.Home, "flag"
	}
	return config.ResolveHome()
}
