package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/assessor/internal/sandbox"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SandboxConfig struct {
	Backend          string        `mapstructure:"backend"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxCodeBytes     int           `mapstructure:"max_code_bytes"`
	MaxCallStackSize int           `mapstructure:"max_call_stack"`
	MaxLogLines      int           `mapstructure:"max_log_lines"`
	Image            string        `mapstructure:"image"`
	Images           []string      `mapstructure:"images"`
	MemoryMB         int64         `mapstructure:"memory_mb"`
	PidsLimit        int64         `mapstructure:"pids_limit"`
	Network          bool          `mapstructure:"network"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite, postgres or none
	DBPath      string `mapstructure:"db_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type LimitsConfig struct {
	GlobalRPS     float64 `mapstructure:"global_rps"`
	ClientRPS     float64 `mapstructure:"client_rps"`
	ClientBurst   int     `mapstructure:"client_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	TrustProxy    bool    `mapstructure:"trust_proxy"` // take the client address from X-Real-IP / X-Forwarded-For
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json or auto
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Log     LogConfig     `mapstructure:"log"`
}

// Load reads configuration from path, or from assessor.yaml in the working
// directory or $HOME/.assessor when path is empty. A missing default config
// file is not an error. ASSESSOR_* environment variables override the file,
// e.g. ASSESSOR_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("assessor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.assessor")
	}

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Storage.PostgresDSN = expandEnv(cfg.Storage.PostgresDSN)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := sandbox.DefaultPolicy()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("sandbox.backend", sandbox.BackendGoja)
	v.SetDefault("sandbox.timeout", def.Timeout)
	v.SetDefault("sandbox.max_code_bytes", def.MaxCodeBytes)
	v.SetDefault("sandbox.max_call_stack", def.MaxCallStackSize)
	v.SetDefault("sandbox.max_log_lines", def.MaxLogLines)
	v.SetDefault("sandbox.image", def.Image)
	v.SetDefault("sandbox.images", def.Images)
	v.SetDefault("sandbox.memory_mb", def.MaxMemory/(1024*1024))
	v.SetDefault("sandbox.pids_limit", def.PidsLimit)
	v.SetDefault("sandbox.network", false)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".assessor", "assessor.db"))
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)

	v.SetDefault("limits.global_rps", 50.0)
	v.SetDefault("limits.client_rps", 2.0)
	v.SetDefault("limits.client_burst", 5)
	v.SetDefault("limits.max_concurrent", 8)
	v.SetDefault("limits.trust_proxy", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case sandbox.BackendGoja, sandbox.BackendDocker:
	default:
		return fmt.Errorf("sandbox.backend must be %q or %q, got %q", sandbox.BackendGoja, sandbox.BackendDocker, c.Sandbox.Backend)
	}
	switch c.Storage.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Sandbox.Timeout <= 0 {
		return errors.New("sandbox.timeout must be positive")
	}
	return nil
}

// Policy converts the sandbox section into a sandbox.Policy.
func (c *Config) Policy() sandbox.Policy {
	return sandbox.Policy{
		Timeout:          c.Sandbox.Timeout,
		MaxCodeBytes:     c.Sandbox.MaxCodeBytes,
		MaxCallStackSize: c.Sandbox.MaxCallStackSize,
		MaxLogLines:      c.Sandbox.MaxLogLines,
		Image:            c.Sandbox.Image,
		Images:           c.Sandbox.Images,
		MaxMemory:        c.Sandbox.MemoryMB * 1024 * 1024,
		PidsLimit:        c.Sandbox.PidsLimit,
		Network:          c.Sandbox.Network,
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandEnv resolves a value of the form ${VAR}.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}
