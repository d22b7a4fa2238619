package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONTRACTD_AI_SERVICE_URL.
const EnvPrefix = "CONTRACTD"

// Config represents the complete service configuration.
// The structure matches config.yaml and every key can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	MinIO    MinIOConfig    `json:"minio" mapstructure:"minio"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
	MCP      MCPConfig      `json:"mcp" mapstructure:"mcp"`
}

type ServerConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `json:"max_upload_size" mapstructure:"max_upload_size"`
	CORSOrigins     []string      `json:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig points at the auth microservice that owns user identity.
type AuthConfig struct {
	ServiceURL string        `json:"service_url" mapstructure:"service_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
}

// AIConfig points at the AI analysis microservice.
type AIConfig struct {
	ServiceURL  string        `json:"service_url" mapstructure:"service_url"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BackoffUnit time.Duration `json:"backoff_unit" mapstructure:"backoff_unit"`
	Breaker     BreakerConfig `json:"breaker" mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests" mapstructure:"max_requests"`
	Interval         time.Duration `json:"interval" mapstructure:"interval"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	FailureThreshold float64       `json:"failure_threshold" mapstructure:"failure_threshold"`
	MinRequests      uint32        `json:"min_requests" mapstructure:"min_requests"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

type AnalysisConfig struct {
	StaleAfter    time.Duration `json:"stale_after" mapstructure:"stale_after"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	SweepEnabled  bool          `json:"sweep_enabled" mapstructure:"sweep_enabled"`
	ListLimit     int           `json:"list_limit" mapstructure:"list_limit"`
}

type MinIOConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// MCPConfig controls the MCP endpoint. An empty token leaves it open.
type MCPConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
	Token   string `json:"token" mapstructure:"token"`
}

// Load reads .env, then config.yaml (from configFile when set, otherwise from
// the working directory or $HOME/.contractd), then environment overrides.
func Load(configFile string) (*Config, error) {
	// Load .env first (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.contractd")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = resolvePath(cfg.Database.DSN)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_size", 10<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.service_url", "http://localhost:5001")
	v.SetDefault("auth.timeout", "10s")

	v.SetDefault("ai.service_url", "http://localhost:5002")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.backoff_unit", "1s")
	v.SetDefault("ai.breaker.max_requests", 1)
	v.SetDefault("ai.breaker.interval", "60s")
	v.SetDefault("ai.breaker.timeout", "30s")
	v.SetDefault("ai.breaker.failure_threshold", 0.6)
	v.SetDefault("ai.breaker.min_requests", 5)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:contractd.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on")

	v.SetDefault("analysis.stale_after", "1h")
	v.SetDefault("analysis.sweep_schedule", "@every 5m")
	v.SetDefault("analysis.sweep_enabled", true)
	v.SetDefault("analysis.list_limit", 50)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "127.0.0.1:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "contracts")
	v.SetDefault("minio.region", "us-east-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.path", "/mcp")
	v.SetDefault("mcp.token", "")
}

// resolvePath expands a leading ~ in a file: DSN or plain path.
func resolvePath(p string) string {
	prefix := ""
	if strings.HasPrefix(p, "file:") {
		prefix, p = "file:", strings.TrimPrefix(p, "file:")
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return prefix + p
}
