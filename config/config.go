// Package config loads vibesearch settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amirhf/vibesearch/models"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// ModelConfig points at the CLIP inference server.
type ModelConfig struct {
	URL               string  `yaml:"url"`
	Checkpoint        string  `yaml:"checkpoint"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Timeout returns TimeoutSecs as a duration.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// StoreConfig selects where builds are saved and loaded from.
type StoreConfig struct {
	Backend      string `yaml:"backend"`
	IndexPath    string `yaml:"index_path"`
	ManifestPath string `yaml:"manifest_path"`
	DatabaseURL  string `yaml:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	APILogFile string `yaml:"api_log_file"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	ImageFolder string       `yaml:"image_folder"`
	BatchSize   int          `yaml:"batch_size"`
	MaxTopK     int          `yaml:"max_top_k"`
	Model       ModelConfig  `yaml:"model"`
	Store       StoreConfig  `yaml:"store"`
	Server      ServerConfig `yaml:"server"`
	Log         LogConfig    `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ImageFolder: "fashion-dataset/images",
		BatchSize:   1000,
		MaxTopK:     100,
		Model: ModelConfig{
			URL:         "http://localhost:8001",
			Checkpoint:  "openai/clip-vit-base-patch32",
			TimeoutSecs: 60,
		},
		Store: StoreConfig{
			Backend:      BackendFile,
			IndexPath:    "image_index.bin",
			ManifestPath: "image_paths.db",
		},
		Server: ServerConfig{
			Port:       8000,
			APILogFile: "api_calls.log",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. A .env file in the working directory is loaded if
// present and never overrides variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: config file %q does not exist", models.ErrConfiguration, path)
			}
			return nil, fmt.Errorf("%w: reading config file: %v", models.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file %q: %v", models.ErrConfiguration, path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}

	str("IMAGE_FOLDER", &c.ImageFolder)
	num("BATCH_SIZE", &c.BatchSize)
	num("MAX_TOP_K", &c.MaxTopK)

	str("MODEL_URL", &c.Model.URL)
	str("MODEL_CKPT", &c.Model.Checkpoint)
	num("MODEL_TIMEOUT_SECS", &c.Model.TimeoutSecs)
	if v, ok := lookup("MODEL_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MODEL_RPS=%q is not a number", v))
		} else {
			c.Model.RequestsPerSecond = f
		}
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("INDEX_PATH", &c.Store.IndexPath)
	str("IMAGE_PATHS_FILE", &c.Store.ManifestPath)
	str("DATABASE_URL", &c.Store.DatabaseURL)

	num("PORT", &c.Server.Port)
	str("API_LOG_FILE", &c.Server.APILogFile)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", models.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	var problems []string
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if c.MaxTopK <= 0 {
		problems = append(problems, "max_top_k must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d is out of range", c.Server.Port))
	}
	if c.Model.URL == "" {
		problems = append(problems, "model.url is required")
	}
	if c.Model.TimeoutSecs < 0 || c.Model.RequestsPerSecond < 0 {
		problems = append(problems, "model timeout and rate limit must not be negative")
	}
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.IndexPath == "" || c.Store.ManifestPath == "" {
			problems = append(problems, "store.index_path and store.manifest_path are required for the file backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Encode writes the configuration as YAML.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
