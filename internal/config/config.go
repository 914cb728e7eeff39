// Package config loads the pipeline configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/controller/gemini"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dispatch"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

// DefaultPath is read when SOL_CONFIG is unset.
const DefaultPath = "sol-pipeline.yaml"

// DefaultInitialMessage starts a run when none is configured.
const DefaultInitialMessage = "Process any new collection account files since the last processed date."

type Config struct {
	Run        RunConfig             `yaml:"run"`
	Controller ControllerConfig      `yaml:"controller"`
	Watermark  watermark.Config      `yaml:"watermark"`
	Logging    logging.Config        `yaml:"logging"`
	Metrics    metrics.Config        `yaml:"metrics"`
	Audit      audit.Config          `yaml:"audit"`
	Stages     dispatch.StaticConfig `yaml:"stages"`
}

type RunConfig struct {
	InitialMessage string        `yaml:"initial_message"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Timeout        time.Duration `yaml:"timeout"`
}

type ControllerConfig struct {
	Type     string        `yaml:"type"` // "gemini" | "script"
	Playbook string        `yaml:"playbook"`
	Gemini   gemini.Config `yaml:"gemini"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Run: RunConfig{
			InitialMessage: DefaultInitialMessage,
			PollInterval:   2 * time.Second,
			Timeout:        30 * time.Minute,
		},
		Controller: ControllerConfig{
			Type: "gemini",
			Gemini: gemini.Config{
				Model: gemini.DefaultModel,
			},
		},
		Watermark: watermark.Config{
			Backend: "sqlite",
			Path:    "processing_history.db",
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Metrics: metrics.Config{
			Address: ":9090",
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path uses SOL_CONFIG, then DefaultPath; a missing
// default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("SOL_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Watermark.Backend = getenvDefault("SOL_WATERMARK_BACKEND", cfg.Watermark.Backend)
	if dsn := os.Getenv("SOL_WATERMARK_DSN"); dsn != "" {
		if cfg.Watermark.Backend == "postgres" {
			cfg.Watermark.DSN = dsn
		} else {
			cfg.Watermark.Path = dsn
		}
	}

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)

	if addr := os.Getenv("METRICS_ADDRESS"); addr != "" {
		cfg.Metrics.Address = addr
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}

	cfg.Controller.Gemini.APIKey = getenvDefault("GEMINI_API_KEY", cfg.Controller.Gemini.APIKey)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be positive, got %s", c.Run.PollInterval)
	}
	if c.Run.Timeout <= 0 {
		return fmt.Errorf("run.timeout must be positive, got %s", c.Run.Timeout)
	}

	switch c.Controller.Type {
	case "gemini":
	case "script":
		if c.Controller.Playbook == "" {
			return fmt.Errorf("controller.playbook is required for the script controller")
		}
	default:
		return fmt.Errorf("unknown controller type: %s", c.Controller.Type)
	}

	switch c.Watermark.Backend {
	case "sqlite", "file":
		if c.Watermark.Path == "" {
			return fmt.Errorf("watermark.path is required for the %s backend", c.Watermark.Backend)
		}
	case "postgres":
		if c.Watermark.DSN == "" {
			return fmt.Errorf("watermark.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown watermark backend: %s", c.Watermark.Backend)
	}

	if c.Audit.Enabled && c.Audit.Directory == "" {
		return fmt.Errorf("audit.directory is required when auditing is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
