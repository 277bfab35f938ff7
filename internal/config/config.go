package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultDiscoveryURL is the endpoint that maps a region to a game server.
	DefaultDiscoveryURL = "http://m.agar.io/"
	// DefaultRegion is used when neither the file nor the environment names one.
	DefaultRegion = "EU-London"
	// DefaultOrigin is sent on the WebSocket upgrade; servers reject unknown origins.
	DefaultOrigin = "http://agar.io"
	// DefaultReadTimeout is how long the socket may stay silent, keepalive pongs
	// included, before the server is declared dead.
	DefaultReadTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds each outbound command.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultMaxMessageBytes limits inbound WebSocket message size.
	DefaultMaxMessageBytes int64 = 1 << 20

	// DefaultCaptureMaxBundles limits retained capture bundles. Zero disables the limit.
	DefaultCaptureMaxBundles = 20
	// DefaultCaptureMaxAge prunes capture bundles older than this. Zero disables the limit.
	DefaultCaptureMaxAge = 7 * 24 * time.Hour

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"

	// EnvConfigPath names an optional TOML file applied before environment overrides.
	EnvConfigPath = "CELLWIRE_CONFIG"
)

// Config captures all runtime tunables for the client.
type Config struct {
	Server     ServerConfig
	Session    SessionConfig
	Capture    CaptureConfig
	Logging    LoggingConfig
	StatusAddr string
}

// ServerConfig selects the game server, either directly or through discovery.
type ServerConfig struct {
	Host         string
	Token        string
	DiscoveryURL string
	Region       string
	Mode         string
}

// SessionConfig tunes the socket and the in-game identity.
type SessionConfig struct {
	Nickname        string
	Origin          string
	Spectate        bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// CaptureConfig enables raw frame capture when Dir is set.
type CaptureConfig struct {
	Dir        string
	MaxBundles int
	MaxAge     time.Duration
}

// Enabled reports whether frames should be captured.
func (c CaptureConfig) Enabled() bool { return c.Dir != "" }

// LoggingConfig captures structured logging configuration options. An empty
// Path logs to stdout only.
type LoggingConfig struct {
	Level  string
	Path   string
	Pretty bool
}

// fileConfig mirrors the TOML layout. Durations are strings parsed with
// time.ParseDuration.
type fileConfig struct {
	StatusAddr string `toml:"status_addr"`
	Server     struct {
		Host         string `toml:"host"`
		Token        string `toml:"token"`
		DiscoveryURL string `toml:"discovery_url"`
		Region       string `toml:"region"`
		Mode         string `toml:"mode"`
	} `toml:"server"`
	Session struct {
		Nickname        string `toml:"nickname"`
		Origin          string `toml:"origin"`
		Spectate        bool   `toml:"spectate"`
		ReadTimeout     string `toml:"read_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
		MaxMessageBytes int64  `toml:"max_message_bytes"`
	} `toml:"session"`
	Capture struct {
		Dir        string `toml:"dir"`
		MaxBundles int    `toml:"max_bundles"`
		MaxAge     string `toml:"max_age"`
	} `toml:"capture"`
	Logging struct {
		Level  string `toml:"level"`
		Path   string `toml:"path"`
		Pretty bool   `toml:"pretty"`
	} `toml:"logging"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DiscoveryURL: DefaultDiscoveryURL,
			Region:       DefaultRegion,
		},
		Session: SessionConfig{
			Origin:          DefaultOrigin,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
		Capture: CaptureConfig{
			MaxBundles: DefaultCaptureMaxBundles,
			MaxAge:     DefaultCaptureMaxAge,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// CELLWIRE_CONFIG and CELLWIRE_* environment variables, in that order. Every
// invalid value is reported in a single error.
func Load() (*Config, error) {
	cfg := Default()
	var problems []string

	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Host = getString("CELLWIRE_SERVER", cfg.Server.Host)
	cfg.Server.Token = getString("CELLWIRE_TOKEN", cfg.Server.Token)
	cfg.Server.DiscoveryURL = getString("CELLWIRE_DISCOVERY_URL", cfg.Server.DiscoveryURL)
	cfg.Server.Region = getString("CELLWIRE_REGION", cfg.Server.Region)
	cfg.Server.Mode = getString("CELLWIRE_MODE", cfg.Server.Mode)
	cfg.Session.Nickname = getString("CELLWIRE_NICKNAME", cfg.Session.Nickname)
	cfg.Session.Origin = getString("CELLWIRE_ORIGIN", cfg.Session.Origin)
	cfg.Capture.Dir = getString("CELLWIRE_CAPTURE_DIR", cfg.Capture.Dir)
	cfg.StatusAddr = getString("CELLWIRE_STATUS_ADDR", cfg.StatusAddr)
	cfg.Logging.Level = getString("CELLWIRE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Path = getString("CELLWIRE_LOG_PATH", cfg.Logging.Path)

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_SPECTATE")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CELLWIRE_SPECTATE must be a boolean value, got %q", raw))
		} else {
			cfg.Session.Spectate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_LOG_PRETTY")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CELLWIRE_LOG_PRETTY must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Pretty = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_READ_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CELLWIRE_READ_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.Session.ReadTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_WRITE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CELLWIRE_WRITE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.Session.WriteTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_MAX_MESSAGE_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CELLWIRE_MAX_MESSAGE_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.Session.MaxMessageBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_CAPTURE_MAX_BUNDLES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CELLWIRE_CAPTURE_MAX_BUNDLES must be a non-negative integer, got %q", raw))
		} else {
			cfg.Capture.MaxBundles = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CELLWIRE_CAPTURE_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("CELLWIRE_CAPTURE_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.Capture.MaxAge = duration
		}
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// validate reports problems that survive every override layer.
func (c *Config) validate() []string {
	var problems []string
	if c.Server.Host == "" && c.Server.DiscoveryURL == "" {
		problems = append(problems, "either CELLWIRE_SERVER or CELLWIRE_DISCOVERY_URL must be set")
	}
	if c.Server.Host != "" && c.Server.Token == "" {
		problems = append(problems, "CELLWIRE_TOKEN must accompany CELLWIRE_SERVER")
	}
	if c.Session.ReadTimeout <= 0 {
		problems = append(problems, "read timeout must be positive")
	}
	if c.Session.WriteTimeout <= 0 {
		problems = append(problems, "write timeout must be positive")
	}
	if c.Session.MaxMessageBytes <= 0 {
		problems = append(problems, "max message bytes must be positive")
	}
	return problems
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("server", "host") {
		cfg.Server.Host = strings.TrimSpace(raw.Server.Host)
	}
	if meta.IsDefined("server", "token") {
		cfg.Server.Token = strings.TrimSpace(raw.Server.Token)
	}
	if meta.IsDefined("server", "discovery_url") {
		cfg.Server.DiscoveryURL = strings.TrimSpace(raw.Server.DiscoveryURL)
	}
	if meta.IsDefined("server", "region") {
		cfg.Server.Region = strings.TrimSpace(raw.Server.Region)
	}
	if meta.IsDefined("server", "mode") {
		cfg.Server.Mode = strings.TrimSpace(raw.Server.Mode)
	}

	if meta.IsDefined("session", "nickname") {
		cfg.Session.Nickname = raw.Session.Nickname
	}
	if meta.IsDefined("session", "origin") {
		cfg.Session.Origin = strings.TrimSpace(raw.Session.Origin)
	}
	if meta.IsDefined("session", "spectate") {
		cfg.Session.Spectate = raw.Session.Spectate
	}
	if meta.IsDefined("session", "read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.ReadTimeout))
		if err != nil {
			return fmt.Errorf("parse session.read_timeout: %w", err)
		}
		cfg.Session.ReadTimeout = d
	}
	if meta.IsDefined("session", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.WriteTimeout))
		if err != nil {
			return fmt.Errorf("parse session.write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("session", "max_message_bytes") {
		cfg.Session.MaxMessageBytes = raw.Session.MaxMessageBytes
	}

	if meta.IsDefined("capture", "dir") {
		cfg.Capture.Dir = strings.TrimSpace(raw.Capture.Dir)
	}
	if meta.IsDefined("capture", "max_bundles") {
		cfg.Capture.MaxBundles = raw.Capture.MaxBundles
	}
	if meta.IsDefined("capture", "max_age") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Capture.MaxAge))
		if err != nil {
			return fmt.Errorf("parse capture.max_age: %w", err)
		}
		cfg.Capture.MaxAge = d
	}

	if meta.IsDefined("logging", "level") {
		cfg.Logging.Level = strings.TrimSpace(raw.Logging.Level)
	}
	if meta.IsDefined("logging", "path") {
		cfg.Logging.Path = strings.TrimSpace(raw.Logging.Path)
	}
	if meta.IsDefined("logging", "pretty") {
		cfg.Logging.Pretty = raw.Logging.Pretty
	}
	return nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
