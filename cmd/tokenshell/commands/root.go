package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenshell/internal/app"
	"github.com/florianilch/tokenshell/internal/observability"
)

const (
	flagConfig   = "config"
	flagEmail    = "email"
	flagPassword = "password"
	flagData     = "data"
	flagHeader   = "header"

	envPassword = "TOKENSHELL_PASSWORD"
	envConfig   = "TOKENSHELL_CONFIG"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand().Run(ctx, args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokenshell",
		Usage: "Client-side auth shell: token storage, authenticated requests, and a guarded SPA gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults to tokenshell/config.toml in the user config dir)",
				Sources: cli.EnvVars(envConfig),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "upstream--base-url",
				Usage: "application API base URL",
				Value: app.DefaultConfigUpstreamBaseURL,
			},
			&cli.StringFlag{
				Name:  "auth--base-url",
				Usage: "auth endpoints base URL (defaults to the upstream base URL)",
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "token storage (file|keyring|env|memory|redis)",
				Value: string(app.DefaultConfigStorageType),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			refreshCommand(),
			tokenCommand(),
			requestCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local gateway that guards the SPA and proxies API calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "gateway--static-dir",
				Usage: "directory with SPA assets served behind the login guard",
			},
			&cli.BoolFlag{
				Name:  "gateway--development",
				Usage: "relax security headers for local development",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	application, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads configuration, installs logging, and builds the application.
// The returned function flushes telemetry and releases the token store.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	configPath := cmd.String(flagConfig)
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	cfg, err := loadConfig(configPath, cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownTelemetry, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat),
		observability.WithOutput(cmd.Root().ErrWriter),
		observability.WithExporter(cfg.Telemetry.Exporter, cfg.Telemetry.Endpoint),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		_ = shutdownTelemetry(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, func() {
		if err := application.Close(); err != nil {
			slog.ErrorContext(ctx, "closing token store", "error", err)
		}
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(cmd.Root().ErrWriter, "flushing telemetry:", err)
		}
	}, nil
}
