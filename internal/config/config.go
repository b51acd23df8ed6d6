// Package config loads the server settings and watches the webhook file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/in2out/mattermost-s-mcp/internal/middleware"
	"github.com/in2out/mattermost-s-mcp/internal/tracing"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

const (
	// EnvPrefix prefixes every environment variable the server reads
	EnvPrefix = "MATTERMOST_MCP"

	// DefaultLogFile receives logs; stdout is reserved for the protocol
	DefaultLogFile = "/tmp/mattermost-s-mcp.log"

	defaultWebhookFile = "config/webhooks.yaml"
	settingsName       = "mattermost-s-mcp"
)

// Config holds the server settings. The webhook file itself is not part of
// it; see webhooks.Store.
type Config struct {
	// WebhookFile is the webhook YAML path. When empty ResolveWebhookFile
	// falls back to config/webhooks.yaml next to the executable.
	WebhookFile string `mapstructure:"config"`

	Watch     bool                        `mapstructure:"watch"`
	Logging   observability.LoggingConfig `mapstructure:"logging"`
	Server    ServerConfig                `mapstructure:"server"`
	Webhook   WebhookConfig               `mapstructure:"webhook"`
	RateLimit middleware.RateLimitConfig  `mapstructure:"rate_limit"`
	Tracing   tracing.Config              `mapstructure:"tracing"`
}

// ServerConfig configures HTTP mode. Port 0 means stdio.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebhookConfig configures outbound delivery
type WebhookConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// flagKeys maps command line flags to settings keys
var flagKeys = map[string]string{
	"config":    "config",
	"log-level": "logging.level",
	"log-file":  "logging.file",
	"port":      "server.port",
	"watch":     "watch",
}

// Load reads settings from, in increasing precedence: defaults, the
// settings file (settingsFile, which must exist when given, or
// mattermost-s-mcp.yaml in the working directory if present), a .env file in the working directory, the
// environment and the flags that were set.
func Load(settingsFile string, flags *pflag.FlagSet) (*Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	} else {
		// mattermost-s-mcp.{yaml,json,toml} in the working directory is optional
		v.SetConfigName(settingsName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read settings file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// the log variables predate the nested keys
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL")
	_ = v.BindEnv("logging.file", EnvPrefix+"_LOG_FILE")

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("watch", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", DefaultLogFile)

	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.user_agent", "mattermost-s-mcp/0.1.0")

	rl := middleware.DefaultRateLimitConfig()
	v.SetDefault("rate_limit.global_rps", rl.GlobalRPS)
	v.SetDefault("rate_limit.global_burst", rl.GlobalBurst)
	v.SetDefault("rate_limit.session_rps", rl.SessionRPS)
	v.SetDefault("rate_limit.session_burst", rl.SessionBurst)
	v.SetDefault("rate_limit.cleanup_interval", rl.CleanupInterval)
	v.SetDefault("rate_limit.max_age", rl.MaxAge)

	tc := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.service_version", tc.ServiceVersion)
	v.SetDefault("tracing.environment", tc.Environment)
	v.SetDefault("tracing.otlp_endpoint", tc.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", tc.OTLPInsecure)
	v.SetDefault("tracing.zipkin_endpoint", tc.ZipkinEndpoint)
	v.SetDefault("tracing.sampling_rate", tc.SamplingRate)
	v.SetDefault("tracing.export_timeout", tc.ExportTimeout)
}

// Validate checks the settings
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, ok := observability.ParseLogLevel(c.Logging.Level); !ok && c.Logging.Level != "" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Webhook.Timeout < 0 {
		return fmt.Errorf("invalid webhook timeout: %s", c.Webhook.Timeout)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("invalid tracing sampling rate: %v", c.Tracing.SamplingRate)
	}
	return nil
}

// ResolveWebhookFile returns the webhook file path: the configured one, or
// config/webhooks.yaml in the executable's directory.
func (c *Config) ResolveWebhookFile() (string, error) {
	if c.WebhookFile != "" {
		return c.WebhookFile, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), defaultWebhookFile), nil
}
