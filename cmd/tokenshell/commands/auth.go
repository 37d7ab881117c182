package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tokenshell/internal/authsession"
	"github.com/florianilch/tokenshell/internal/tokenstore"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in with email and password and store the issued tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagEmail,
				Aliases:  []string{"e"},
				Usage:    "account email",
				Required: true,
			},
			&cli.StringFlag{
				Name:    flagPassword,
				Usage:   "account password (prompted when omitted)",
				Sources: cli.EnvVars(envPassword),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, shutdown, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			password := cmd.String(flagPassword)
			if password == "" {
				password, err = readPassword(cmd.Root().Reader, cmd.Root().ErrWriter)
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
			}

			user, err := application.Session().Login(ctx, cmd.String(flagEmail), password)
			if errors.Is(err, tokenstore.ErrReadOnly) {
				return fmt.Errorf("login requires writable token storage: %w", err)
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Fprintf(cmd.Root().Writer, "Logged in as %s\n", user.Email)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "revoke the session and remove stored tokens",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, shutdown, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			if err := application.Session().Logout(ctx); err != nil {
				return fmt.Errorf("logout incomplete: %w", err)
			}

			fmt.Fprintln(cmd.Root().Writer, "Logged out")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the session state without contacting the backend",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, shutdown, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			creds, err := tokenstore.LoadCredentials(ctx, application.Store())
			if err != nil {
				return fmt.Errorf("reading stored credentials: %w", err)
			}

			view := application.Session().Snapshot(ctx)
			fmt.Fprintln(cmd.Root().Writer, statusTable(view, creds, time.Now()))
			return nil
		},
	}
}

// statusTable renders the session view. Token values are never printed.
func statusTable(view authsession.View, creds tokenstore.Credentials, now time.Time) *uitable.Table {
	table := uitable.New()
	table.AddRow("STATE:", view.State)

	email := "-"
	if view.User != nil && view.User.Email != "" {
		email = view.User.Email
	}
	table.AddRow("USER:", email)
	table.AddRow("ACCESS TOKEN:", describeAccessToken(creds.AccessToken, now))
	table.AddRow("REFRESH TOKEN:", presence(creds.RefreshToken))
	return table
}

func describeAccessToken(accessToken string, now time.Time) string {
	if accessToken == "" {
		return "missing"
	}
	expiry := authsession.TokenExpiry(accessToken)
	switch {
	case expiry.IsZero():
		return "present"
	case !expiry.After(now):
		return fmt.Sprintf("expired %s ago", now.Sub(expiry).Round(time.Second))
	default:
		return fmt.Sprintf("valid for %s", expiry.Sub(now).Round(time.Second))
	}
}

func presence(value string) string {
	if value == "" {
		return "missing"
	}
	return "present"
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "exchange the stored refresh token for a new access token",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, shutdown, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			if _, err := application.Session().Refresh(ctx); err != nil {
				return fmt.Errorf("refresh failed, login required: %w", err)
			}

			fmt.Fprintln(cmd.Root().Writer, "Access token refreshed")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a valid access token, refreshing it when expired",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, shutdown, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			token, err := application.Session().TokenSource(ctx).Token()
			if err != nil {
				return fmt.Errorf("no valid access token: %w", err)
			}

			fmt.Fprintln(cmd.Root().Writer, token.AccessToken)
			return nil
		},
	}
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword(r io.Reader, prompt io.Writer) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		return string(password), err
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
