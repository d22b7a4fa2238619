package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}
	if c.Server.MaxUploadSize <= 0 {
		return errors.New("server max_upload_size must be positive")
	}

	if err := validateServiceURL("auth", c.Auth.ServiceURL); err != nil {
		return err
	}
	if err := validateServiceURL("ai", c.AI.ServiceURL); err != nil {
		return err
	}
	if c.AI.Timeout <= 0 {
		return errors.New("ai timeout must be positive")
	}
	if c.AI.MaxAttempts < 1 {
		return errors.New("ai max_attempts must be at least 1")
	}
	if c.AI.BackoffUnit < 0 {
		return errors.New("ai backoff_unit cannot be negative")
	}
	if t := c.AI.Breaker.FailureThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("ai breaker failure_threshold must be in (0, 1], got %v", t)
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}

	if c.Analysis.StaleAfter <= 0 {
		return errors.New("analysis stale_after must be positive")
	}
	if c.Analysis.SweepEnabled {
		if _, err := cron.ParseStandard(c.Analysis.SweepSchedule); err != nil {
			return fmt.Errorf("invalid analysis sweep_schedule: %v", err)
		}
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return errors.New("minio endpoint cannot be empty when minio is enabled")
		}
		if c.MinIO.AccessKey == "" {
			return errors.New("minio access key cannot be empty when minio is enabled")
		}
		if c.MinIO.SecretKey == "" {
			return errors.New("minio secret key cannot be empty when minio is enabled")
		}
		if !isValidBucketName(c.MinIO.Bucket) {
			return fmt.Errorf("invalid minio bucket name: %s", c.MinIO.Bucket)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		return errors.New("mcp path must start with /")
	}
	return nil
}

func validateServiceURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s service_url: %q", name, raw)
	}
	return nil
}

// isValidBucketName checks if a bucket name is valid according to MinIO/S3 rules
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return bucketNamePattern.MatchString(name)
}
