// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"healthai/logger"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Models  ModelsConfig  `yaml:"models"`
	Explain ExplainConfig `yaml:"explain"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type ModelsConfig struct {
	ReadmissionPath string `yaml:"readmission_path"`
	SeverityPath    string `yaml:"severity_path"`
	// Watch reloads the models when either artifact changes on disk.
	Watch bool `yaml:"watch"`
}

type ExplainConfig struct {
	TopK         int   `yaml:"top_k"`
	Permutations int   `yaml:"permutations"`
	Seed         int64 `yaml:"seed"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

// StoreConfig enables the prediction log when Path is set.
type StoreConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Models: ModelsConfig{
			ReadmissionPath: "models/readmission_pipeline.json.zst",
			SeverityPath:    "models/severity_pipeline.json.zst",
		},
		Explain: ExplainConfig{
			TopK:         2,
			Permutations: 64,
			Seed:         42,
		},
		Cache:   CacheConfig{Size: 1024},
		Metrics: MetricsConfig{Enabled: true},
		Log:     logger.DefaultConfig(),
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment variables prefixed with HEALTHAI_ win over both.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Port = getEnvAsInt("HEALTHAI_PORT", c.HTTP.Port)
	if origins := getEnv("HEALTHAI_ALLOWED_ORIGINS", ""); origins != "" {
		c.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Models.ReadmissionPath = getEnv("HEALTHAI_READMISSION_MODEL", c.Models.ReadmissionPath)
	c.Models.SeverityPath = getEnv("HEALTHAI_SEVERITY_MODEL", c.Models.SeverityPath)
	c.Models.Watch = getEnvAsBool("HEALTHAI_WATCH_MODELS", c.Models.Watch)
	c.Cache.Size = getEnvAsInt("HEALTHAI_CACHE_SIZE", c.Cache.Size)
	c.Store.Path = getEnv("HEALTHAI_STORE_PATH", c.Store.Path)
	c.Metrics.Enabled = getEnvAsBool("HEALTHAI_METRICS", c.Metrics.Enabled)
	c.Log.Level = getEnv("HEALTHAI_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("HEALTHAI_LOG_FILE", c.Log.File)
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.Models.ReadmissionPath == "" || c.Models.SeverityPath == "" {
		return errors.New("models.readmission_path and models.severity_path are required")
	}
	if c.Explain.TopK <= 0 {
		return fmt.Errorf("invalid explain.top_k %d", c.Explain.TopK)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("invalid cache.size %d", c.Cache.Size)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
