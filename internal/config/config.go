// Package config provides configuration management for the codegate service.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ronai/codegate/internal/sandbox"
)

// Config holds all configuration for the codegate service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   sandbox.Config  `mapstructure:"sandbox"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Export    ExportConfig    `mapstructure:"export"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// ServiceToken guards the capture route when non-empty.
	ServiceToken string `mapstructure:"service_token"`
}

// ExportConfig holds component export configuration.
type ExportConfig struct {
	ComponentsDir string `mapstructure:"components_dir"`
	Extension     string `mapstructure:"extension"`
}

// GeneratorConfig holds the generative backend configuration.
type GeneratorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	RealtimeModel string        `mapstructure:"realtime_model"`
	Prompt        string        `mapstructure:"prompt"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// AuditConfig selects where execution records are kept.
type AuditConfig struct {
	Driver   string `mapstructure:"driver"` // "none", "memory", "mongodb", "postgres", "sqlite"
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"` // MongoDB only
	Capacity int    `mapstructure:"capacity"` // memory only
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	sb := sandbox.DefaultConfig()
	v.SetDefault("sandbox.mode", string(sb.Mode))
	v.SetDefault("sandbox.timeout", sb.Timeout)
	v.SetDefault("sandbox.max_call_stack", sb.MaxCallStack)
	v.SetDefault("sandbox.max_output_bytes", sb.MaxOutputBytes)
	v.SetDefault("sandbox.worker_count", sb.WorkerCount)
	v.SetDefault("sandbox.acquire_timeout", sb.AcquireTimeout)
	v.SetDefault("sandbox.worker_binary", "")
	v.SetDefault("sandbox.max_memory_mb", sb.MaxMemoryMB)

	// Container runtime defaults
	v.SetDefault("sandbox.container.runtime", sb.Container.Runtime)
	v.SetDefault("sandbox.container.image", sb.Container.Image)
	v.SetDefault("sandbox.container.entrypoint", sb.Container.Entrypoint)
	v.SetDefault("sandbox.container.timeout", sb.Container.Timeout)
	v.SetDefault("sandbox.container.max_memory_mb", sb.Container.MaxMemoryMB)
	v.SetDefault("sandbox.container.network_disabled", sb.Container.NetworkDisabled)
	v.SetDefault("sandbox.container.read_only_rootfs", sb.Container.ReadOnlyRootfs)
	v.SetDefault("sandbox.container.drop_capabilities", sb.Container.DropCapabilities)
	v.SetDefault("sandbox.container.runtime_path", sb.Container.RuntimePath)
	v.SetDefault("sandbox.container.exec_timeout", sb.Container.ExecTimeout)
	v.SetDefault("sandbox.container.max_call_stack", sb.Container.MaxCallStack)
	v.SetDefault("sandbox.container.max_output_bytes", sb.Container.MaxOutputBytes)

	v.SetDefault("auth.service_token", "")

	v.SetDefault("export.components_dir", "src/components/Generated")
	v.SetDefault("export.extension", ".tsx")

	v.SetDefault("generator.enabled", false)
	v.SetDefault("generator.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "gemini-2.0-flash")
	v.SetDefault("generator.realtime_model", "gemini-2.0-flash-live-001")
	v.SetDefault("generator.prompt", "Reply with a short greeting to confirm the connection works.")
	v.SetDefault("generator.timeout", 30*time.Second)

	v.SetDefault("audit.driver", "memory")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("audit.database", "codegate")
	v.SetDefault("audit.capacity", 500)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("codegate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/codegate")
	}

	// Read environment variables
	v.SetEnvPrefix("CODEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr returns the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
