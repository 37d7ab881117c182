package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenshell/internal/authclient"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated request to the application API",
		ArgsUsage: "METHOD PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagData,
				Aliases: []string{"d"},
				Usage:   "JSON request body",
			},
			&cli.StringSliceFlag{
				Name:    flagHeader,
				Aliases: []string{"H"},
				Usage:   "extra request header as 'Name: value' (repeatable)",
			},
		},
		Action: requestAction,
	}
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("expected METHOD and PATH, got %d arguments", cmd.Args().Len())
	}
	method := strings.ToUpper(cmd.Args().Get(0))
	path := cmd.Args().Get(1)

	var body any
	if data := cmd.String(flagData); data != "" {
		if !json.Valid([]byte(data)) {
			return errors.New("--data must be valid JSON")
		}
		body = json.RawMessage(data)
	}

	application, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	client := application.Client()
	req, err := client.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := applyHeaders(req, cmd.StringSlice(flagHeader)); err != nil {
		return err
	}

	resp, err := client.Do(req)
	var statusErr *authclient.StatusError
	if errors.As(err, &statusErr) {
		_, _ = cmd.Root().Writer.Write(statusErr.Body)
		return err
	}
	var refreshErr *authclient.RefreshError
	if errors.As(err, &refreshErr) {
		return fmt.Errorf("session expired, run 'tokenshell login': %w", err)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(cmd.Root().Writer, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return nil
}

func applyHeaders(req *http.Request, headers []string) error {
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		if http.CanonicalHeaderKey(strings.TrimSpace(name)) == "Authorization" {
			return errors.New("the Authorization header is managed by the token store")
		}
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return nil
}
