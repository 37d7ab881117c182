package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/florianilch/tokenshell/internal/authapi"
	"github.com/florianilch/tokenshell/internal/observability"
	"github.com/florianilch/tokenshell/internal/tokensource"
	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for stored tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeMemory  TokenStorageType = "memory"
	TokenStorageTypeRedis   TokenStorageType = "redis"
)

// RefreshMode selects how access tokens are refreshed.
type RefreshMode string

const (
	// RefreshModeEndpoint posts the refresh token to the backend's refresh route.
	RefreshModeEndpoint RefreshMode = "endpoint"
	// RefreshModeOAuth2 uses the refresh_token grant at an OAuth2 token endpoint.
	RefreshModeOAuth2 RefreshMode = "oauth2"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = observability.ExporterNone
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 4000
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigUpstreamBaseURL   = "http://127.0.0.1:8000"
	DefaultConfigAuthTimeout       = 30 * time.Second
	DefaultConfigAuthRefreshMode   = RefreshModeEndpoint
	DefaultConfigLoginRateLimit    = 10
	DefaultConfigStorageType       = TokenStorageTypeFile
	DefaultConfigStorageEnvPrefix  = "TOKENSHELL_TOKEN_"
	DefaultConfigRedisAddr         = "127.0.0.1:6379"
	DefaultConfigRedisPrefix       = "tokenshell"

	// keyringService namespaces keyring entries for this application.
	keyringService = "tokenshell"
)

// TelemetryConfig holds OpenTelemetry log export configuration.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp_http otlp_grpc"`
	// Endpoint overrides the OTLP endpoint URL; empty uses OTEL_EXPORTER_OTLP_* defaults.
	Endpoint string `json:"endpoint,omitempty" validate:"omitempty,url"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds the application API configuration.
type UpstreamConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// AuthConfig describes the backend auth endpoints and refresh behavior.
type AuthConfig struct {
	// BaseURL of the auth endpoints. Defaults to the upstream base URL.
	BaseURL         string        `json:"base_url" validate:"required,url"`
	LoginPath       string        `json:"login_path" validate:"required,startswith=/"`
	RefreshPath     string        `json:"refresh_path" validate:"required,startswith=/"`
	LogoutPath      string        `json:"logout_path" validate:"omitempty,startswith=/"`
	CurrentUserPath string        `json:"current_user_path" validate:"omitempty,startswith=/"`
	Timeout         time.Duration `json:"timeout"`

	RefreshMode RefreshMode   `json:"refresh_mode" validate:"oneof=endpoint oauth2"`
	OAuth2      *OAuth2Config `json:"oauth2,omitempty"` // For oauth2 refresh mode

	// DisableRefreshCoalescing lets every concurrent 401 run its own refresh.
	DisableRefreshCoalescing bool `json:"disable_refresh_coalescing"`
}

// OAuth2Config describes the token endpoint used in oauth2 refresh mode.
type OAuth2Config struct {
	TokenURL     string   `json:"token_url" validate:"required,url"`
	ClientID     string   `json:"client_id" validate:"required"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	// JSONEncoding sends refresh requests as JSON for endpoints that reject form bodies.
	JSONEncoding bool `json:"json_encoding"`
}

// NewRefresher creates the OAuth2 refresher for oauth2 refresh mode.
func (o *OAuth2Config) NewRefresher(timeout time.Duration) (*tokensource.Refresher, error) {
	opts := []tokensource.Option{tokensource.WithTimeout(timeout)}
	if o.JSONEncoding {
		opts = append(opts, tokensource.WithJSONEncoding())
	}
	return tokensource.New(tokensource.Config{
		TokenURL:     o.TokenURL,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Scopes:       o.Scopes,
	}, opts...)
}

// Endpoints returns the configured endpoint paths.
func (a *AuthConfig) Endpoints() authapi.Endpoints {
	return authapi.Endpoints{
		Login:       a.LoginPath,
		Refresh:     a.RefreshPath,
		Logout:      a.LogoutPath,
		CurrentUser: a.CurrentUserPath,
	}
}

// GatewayConfig holds settings for the local SPA gateway.
type GatewayConfig struct {
	// StaticDir serves SPA assets behind the route guard; empty serves a JSON landing view.
	StaticDir string `json:"static_dir,omitempty" validate:"omitempty,dir"`
	// LoginRateLimit caps login attempts per client IP per minute; zero disables the limit.
	LoginRateLimit int  `json:"login_rate_limit" validate:"gte=0"`
	Development    bool `json:"development"`
}

// RedisConfig holds settings for the redis token store.
type RedisConfig struct {
	Addr     string        `json:"addr" validate:"required,hostname_port"`
	Password string        `json:"password,omitempty"`
	DB       int           `json:"db" validate:"gte=0"`
	Prefix   string        `json:"prefix" validate:"required"`
	TTL      time.Duration `json:"ttl" validate:"gte=0"`
}

// StorageConfig describes how to construct the token store.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file env keyring memory redis"`

	// Storage-specific settings (mutually exclusive based on Type)
	File        string       `json:"file,omitempty"`         // For file storage: path to token file
	EnvPrefix   string       `json:"env_prefix,omitempty"`   // For env storage: variable name prefix
	KeyringUser string       `json:"keyring_user,omitempty"` // For keyring storage: user identifier
	Redis       *RedisConfig `json:"redis,omitempty"`        // For redis storage
}

// NewTokenStore creates a token store from the storage configuration.
// The returned close function releases backend connections and is never nil.
func (s *StorageConfig) NewTokenStore() (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.Type {
	case TokenStorageTypeFile:
		store, err := tokenstore.NewFileStore(s.File)
		return store, noop, err
	case TokenStorageTypeEnv:
		store, err := tokenstore.NewEnvStore(s.EnvPrefix)
		return store, noop, err
	case TokenStorageTypeKeyring:
		store, err := tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
		return store, noop, err
	case TokenStorageTypeMemory:
		return tokenstore.NewMemoryStore(), noop, nil
	case TokenStorageTypeRedis:
		if s.Redis == nil {
			return nil, nil, errors.New("redis settings required for redis storage")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{s.Redis.Addr},
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		store, err := tokenstore.NewRedisStore(client, s.Redis.Prefix, s.Redis.TTL)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Auth      AuthConfig      `json:"auth"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultConfigUpstreamBaseURL
	}

	if c.Auth.BaseURL == "" {
		c.Auth.BaseURL = c.Upstream.BaseURL
	}
	defaults := authapi.DefaultEndpoints()
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = defaults.Login
	}
	if c.Auth.RefreshPath == "" {
		c.Auth.RefreshPath = defaults.Refresh
	}
	if c.Auth.LogoutPath == "" {
		c.Auth.LogoutPath = defaults.Logout
	}
	if c.Auth.CurrentUserPath == "" {
		c.Auth.CurrentUserPath = defaults.CurrentUser
	}
	if c.Auth.Timeout == 0 {
		c.Auth.Timeout = DefaultConfigAuthTimeout
	}
	if c.Auth.RefreshMode == "" {
		c.Auth.RefreshMode = DefaultConfigAuthRefreshMode
	}

	if c.Gateway.LoginRateLimit == 0 {
		c.Gateway.LoginRateLimit = DefaultConfigLoginRateLimit
	}

	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "tokenshell", "tokens.json")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigStorageEnvPrefix
		}
	case TokenStorageTypeRedis:
		if c.Storage.Redis == nil {
			c.Storage.Redis = &RedisConfig{}
		}
		if c.Storage.Redis.Addr == "" {
			c.Storage.Redis.Addr = DefaultConfigRedisAddr
		}
		if c.Storage.Redis.Prefix == "" {
			c.Storage.Redis.Prefix = DefaultConfigRedisPrefix
		}
	case TokenStorageTypeMemory:
		// nothing to configure
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Telemetry.Endpoint != "" && c.Telemetry.Exporter != observability.ExporterOTLPHTTP &&
		c.Telemetry.Exporter != observability.ExporterOTLPGRPC {
		return errors.New("telemetry.endpoint requires an otlp exporter")
	}

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute URL: %q", c.Upstream.BaseURL)
	}

	if c.Auth.RefreshMode == RefreshModeOAuth2 && c.Auth.OAuth2 == nil {
		return errors.New("auth.oauth2 settings required for oauth2 refresh mode")
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case TokenStorageTypeRedis:
		if c.Storage.Redis == nil {
			return errors.New("redis settings required for redis storage")
		}
	}

	return nil
}

// Address returns the gateway listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.FormatUint(uint64(c.Server.Port), 10))
}
