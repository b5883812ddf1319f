package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

type StagingConfig struct {
	Root              string `yaml:"root"`
	Prefix            string `yaml:"prefix"`
	BaseImage         string `yaml:"base_image"`
	AppRoot           string `yaml:"app_root"`
	SourceFile        string `yaml:"source_file"`
	DependencyName    string `yaml:"dependency_name"`
	DependencyVersion string `yaml:"dependency_version"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether an output mirror bucket is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type Config struct {
	Listen            string            `yaml:"listen"`
	APIKey            string            `yaml:"api_key"`
	LogLevel          string            `yaml:"log_level"`
	DBPath            string            `yaml:"db_path"`
	DockerHost        string            `yaml:"docker_host"`
	ImagePrefix       string            `yaml:"image_prefix"`
	PollIntervalMs    int               `yaml:"poll_interval_ms"`
	LifetimeMs        int               `yaml:"lifetime_ms"`
	TeardownTimeoutMs int               `yaml:"teardown_timeout_ms"`
	MaxOutputSize     string            `yaml:"max_output_bytes"`
	NoiseMarkers      []string          `yaml:"noise_markers"`
	ReconcileOnStart  bool              `yaml:"reconcile_on_start"`
	Staging           StagingConfig     `yaml:"staging"`
	ObjectStore       ObjectStoreConfig `yaml:"object_store"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:            "127.0.0.1:3000",
		LogLevel:          "info",
		DBPath:            "./snippetd.db",
		ImagePrefix:       "node_docker_",
		PollIntervalMs:    500,
		LifetimeMs:        10000,
		TeardownTimeoutMs: 30000,
		NoiseMarkers:      []string{"docker", "node"},
		ReconcileOnStart:  true,
		Staging: StagingConfig{
			Root:              os.TempDir(),
			Prefix:            "docker",
			BaseImage:         "node:20-slim",
			AppRoot:           "/usr/src/app",
			SourceFile:        "index.js",
			DependencyName:    "express",
			DependencyVersion: "^4.16.1",
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.LifetimeMs <= 0 {
		return fmt.Errorf("lifetime_ms must be positive, got %d", c.LifetimeMs)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	if c.Staging.Root == "" || c.Staging.SourceFile == "" || c.Staging.AppRoot == "" {
		return fmt.Errorf("staging root, source_file and app_root are required")
	}
	if _, err := c.MaxOutputBytes(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Lifetime() time.Duration {
	return time.Duration(c.LifetimeMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) TeardownTimeout() time.Duration {
	if c.TeardownTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TeardownTimeoutMs) * time.Millisecond
}

// MaxOutputBytes parses max_output_bytes ("64KiB", "1MB", ...). Zero means unlimited.
func (c *Config) MaxOutputBytes() (int64, error) {
	if strings.TrimSpace(c.MaxOutputSize) == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.MaxOutputSize)
	if err != nil {
		return 0, fmt.Errorf("max_output_bytes: %w", err)
	}
	return n, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNIPPETD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SNIPPETD_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("SNIPPETD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SNIPPETD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SNIPPETD_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
	// Legacy pair from the node service.
	if cfg.DockerHost == "" {
		host, port := os.Getenv("DOCKER_HOST"), os.Getenv("DOCKER_PORT")
		if host != "" && port != "" && !strings.Contains(host, "://") {
			cfg.DockerHost = "tcp://" + host + ":" + port
		}
	}
	if v := os.Getenv("SNIPPETD_IMAGE_PREFIX"); v != "" {
		cfg.ImagePrefix = v
	}
	if v := os.Getenv("SNIPPETD_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = n
		}
	}
	if v := os.Getenv("SNIPPETD_LIFETIME_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LifetimeMs = n
		}
	}
	if v := os.Getenv("SNIPPETD_TEARDOWN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TeardownTimeoutMs = n
		}
	}
	if v := os.Getenv("SNIPPETD_MAX_OUTPUT_BYTES"); v != "" {
		cfg.MaxOutputSize = v
	}
	if v := os.Getenv("SNIPPETD_NOISE_MARKERS"); v != "" {
		cfg.NoiseMarkers = strings.Split(v, ",")
	}
	if v := os.Getenv("SNIPPETD_RECONCILE_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ReconcileOnStart = b
		}
	}
	if v := os.Getenv("SNIPPETD_STAGING_ROOT"); v != "" {
		cfg.Staging.Root = v
	}
	if v := os.Getenv("SNIPPETD_BASE_IMAGE"); v != "" {
		cfg.Staging.BaseImage = v
	}
	if v := os.Getenv("SNIPPETD_OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("SNIPPETD_OBJECT_STORE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("SNIPPETD_OBJECT_STORE_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("SNIPPETD_OBJECT_STORE_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("SNIPPETD_OBJECT_STORE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ObjectStore.UseSSL = b
		}
	}
}
