package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenshell/internal/app"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
log_level = "debug"

[server]
host = "0.0.0.0"
port = 5000

[upstream]
base_url = "https://file.example.com"

[storage]
type = "memory"
`)

	environ := func() []string {
		return []string{
			"TOKENSHELL_SERVER__PORT=6000",
			"TOKENSHELL_AUTH__BASE_URL=https://auth.example.com",
			"TOKENSHELL_TOKEN_ACCESS_TOKEN=secret",
			"TOKENSHELL_PASSWORD=hunter2",
			"UNRELATED=1",
		}
	}

	var got *app.Config
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "upstream--base-url"},
			&cli.StringFlag{Name: "server--host"},
			&cli.StringFlag{Name: flagPassword},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			got, err = loadConfig(path, cmd, environ)
			return err
		},
	}

	args := []string{"test", "--upstream--base-url", "https://flag.example.com", "--password", "pw"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatal(err)
	}

	if got.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug from file", got.LogLevel)
	}
	if got.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want file value (unset flag must not override)", got.Server.Host)
	}
	if got.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000 from env", got.Server.Port)
	}
	if got.Upstream.BaseURL != "https://flag.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want flag value", got.Upstream.BaseURL)
	}
	if got.Auth.BaseURL != "https://auth.example.com" {
		t.Errorf("Auth.BaseURL = %q, want env value", got.Auth.BaseURL)
	}
	if got.Storage.Type != app.TokenStorageTypeMemory {
		t.Errorf("Storage.Type = %q", got.Storage.Type)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil, func() []string { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != app.DefaultConfigServerPort {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != app.DefaultConfigStorageType {
		t.Errorf("Storage.Type = %q", cfg.Storage.Type)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		environ []string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.toml")},
		{name: "invalid toml", path: writeConfigFile(t, "server = [")},
		{name: "invalid value", environ: []string{"TOKENSHELL_LOG_FORMAT=xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.path, nil, func() []string { return tt.environ })
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractAndTransformFlags(t *testing.T) {
	var got map[string]any
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level"},
			&cli.StringFlag{Name: "gateway--static-dir"},
			&cli.IntFlag{Name: "server--port"},
			&cli.StringFlag{Name: flagEmail},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			got = extractAndTransformFlags(cmd)
			return nil
		},
	}

	args := []string{"test", "--log-level", "warn", "--gateway--static-dir", "/srv", "--email", "a@b.com"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatal(err)
	}

	if got["log_level"] != "warn" || got["gateway.static_dir"] != "/srv" {
		t.Errorf("flags = %v", got)
	}
	if _, ok := got["server.port"]; ok {
		t.Error("unset flag was extracted")
	}
	if _, ok := got["email"]; ok {
		t.Error("input flag was treated as configuration")
	}
}
