// Package authcmd implements the `everwalk auth` command group.
package authcmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
)

// Command implements `everwalk auth`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the auth command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign out and inspect the stored session",
	}
	c.cmd.AddCommand(
		newRegister(ctx),
		newLogin(ctx),
		newLogout(ctx),
		newWhoami(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

// ---------------------------------------------------------------------------
// auth register
// ---------------------------------------------------------------------------

func newRegister(ctx *shared.Context) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			u, err := svc.Register(cmd.Context(), email, pw, name)
			if err != nil {
				return err
			}
			if r.JSON() {
				return r.Value(u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s (%s)\n", displayName(u.Name, u.Email), u.Email)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "Account email (required)")
	f.StringVar(&password, "password", "", "Password (prompted when omitted)")
	f.StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ---------------------------------------------------------------------------
// auth login
// ---------------------------------------------------------------------------

func newLogin(ctx *shared.Context) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			u, err := svc.Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			if r.JSON() {
				return r.Value(u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", displayName(u.Name, u.Email))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "Account email (required)")
	f.StringVar(&password, "password", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ---------------------------------------------------------------------------
// auth logout
// ---------------------------------------------------------------------------

func newLogout(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := ctx.Service()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// auth whoami
// ---------------------------------------------------------------------------

func newWhoami(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			who, err := svc.Whoami(cmd.Context())
			if err != nil {
				return err
			}
			if r.JSON() {
				return r.Value(who)
			}
			out := cmd.OutOrStdout()
			if who.User != nil {
				fmt.Fprintf(out, "%s <%s>\n", displayName(who.User.Name, who.User.Email), who.User.Email)
			} else {
				fmt.Fprintf(out, "Subject: %s\n", who.Subject)
			}
			if who.ExpiresAt != nil {
				state := "valid until"
				if who.Expired {
					state = "expired at"
				}
				fmt.Fprintf(out, "Token %s %s\n", state, who.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolvePassword returns flag when set. Otherwise it prompts on the
// terminal, or reads one line from stdin when stdin is not a terminal.
func resolvePassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pass, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pass), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
