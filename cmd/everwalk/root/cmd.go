// Package rootcmd wires the root cobra.Command for the everwalk CLI binary.
package rootcmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	authcmd "github.com/go-ports/everwalk/cmd/everwalk/auth"
	configcmd "github.com/go-ports/everwalk/cmd/everwalk/config"
	diarycmd "github.com/go-ports/everwalk/cmd/everwalk/diary"
	mcpcmd "github.com/go-ports/everwalk/cmd/everwalk/mcp"
	messagescmd "github.com/go-ports/everwalk/cmd/everwalk/messages"
	petscmd "github.com/go-ports/everwalk/cmd/everwalk/pets"
	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	versioncmd "github.com/go-ports/everwalk/cmd/everwalk/version"
	videoscmd "github.com/go-ports/everwalk/cmd/everwalk/videos"
	"github.com/go-ports/everwalk/internal/api"
	"github.com/go-ports/everwalk/internal/config"
	"github.com/go-ports/everwalk/internal/session"
)

// New creates and returns the root cobra.Command for the everwalk CLI.
func New() *cobra.Command {
	ctx := &shared.Context{}

	root := &cobra.Command{
		Use:           "everwalk",
		Short:         "EverWalk: stay close to the pets you miss",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd, ctx)
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&ctx.Home, "home", "",
		"Override client home directory (default: $EVERWALK_HOME env → persisted config → ~/.everwalk)")
	f.StringVar(&ctx.Server, "server", "", "Backend API root (overrides config and $EVERWALK_SERVER_URL)")
	f.StringVarP(&ctx.Output, "output", "o", "", "Output format: text or json (default from config)")
	f.StringVar(&ctx.JSONPath, "jsonpath", "", "Print a JSONPath selection of the JSON output, e.g. '$[*].name'")
	f.BoolVarP(&ctx.Verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		authcmd.New(ctx).Cmd(),
		petscmd.New(ctx).Cmd(),
		videoscmd.New(ctx).Cmd(),
		messagescmd.New(ctx).Cmd(),
		diarycmd.New(ctx).Cmd(),
		configcmd.New(ctx).Cmd(),
		mcpcmd.New(ctx).Cmd(),
		versioncmd.New(ctx).Cmd(),
	)

	return root
}

// Hint returns a follow-up suggestion for well-known failures, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, api.ErrUnauthorized):
		return "Sign in with: everwalk auth login --email <email>"
	case errors.Is(err, api.ErrUnreachable):
		return "Check the backend URL with: everwalk config show"
	}
	return ""
}

// setupLogging installs the default slog handler on stderr. --verbose wins
// over the configured log.level.
func setupLogging(cmd *cobra.Command, ctx *shared.Context) {
	level := slog.LevelWarn
	if ctx.Verbose {
		level = slog.LevelDebug
	} else {
		home := ctx.Home
		if home == "" {
			home = config.GetHome()
		}
		if cfg, err := config.Load(filepath.Join(home, "config.yaml")); err == nil {
			level = parseLevel(cfg.Log.Level)
		}
	}
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
