// Package config provides configuration loading for pdfdown.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/observability"
)

// Config holds all configuration for pdfdown.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Batch         BatchConfig         `yaml:"batch"`
	Render        RenderConfig        `yaml:"render"`
	Cache         CacheConfig         `yaml:"cache"`
	History       HistoryConfig       `yaml:"history"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig holds chat-completions endpoint settings.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	// Instruction is the text sent with every page image. The stock value is
	// English; set it to e.g. "将图片转换为 Markdown" for the Chinese prompt.
	Instruction string        `yaml:"instruction"`
	MaxTokens   int           `yaml:"max_tokens"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// BatchConfig holds page fan-out settings.
type BatchConfig struct {
	Workers           int           `yaml:"workers"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables rate limiting
	Burst             int           `yaml:"burst"`
}

// RenderConfig holds page rasterization settings.
type RenderConfig struct {
	DPI         int    `yaml:"dpi"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	OutputDir   string `yaml:"output_dir"`
}

// CacheConfig holds transcription cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// HistoryConfig holds run history settings. An empty path disables history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadMB      int           `yaml:"max_upload_mb"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// The result is not validated; callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}

		if cfg.History.Path != "" && cfg.History.Path != ":memory:" {
			cfg.History.Path = ResolveRelativePath(path, cfg.History.Path)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files (or ./.env) into the process environment.
// Missing files are ignored and existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.ConfigError(fmt.Sprintf("load %s", p), err)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Instruction: "Convert the image to Markdown",
			MaxTokens:   4096,
			CallTimeout: 120 * time.Second,
		},
		Batch: BatchConfig{
			Workers:        5,
			MaxRetries:     2,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Burst:          1,
		},
		Render: RenderConfig{
			DPI:         300,
			JPEGQuality: 85,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "pdfdown:",
			},
		},
		History: HistoryConfig{
			Path: defaultHistoryPath(),
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadMB:      50,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pdfdown", "history.db")
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if _, err := observability.ParseLevel(c.Observability.LogLevel); err != nil {
		return domain.SetupError("invalid log level", err)
	}

	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return domain.SetupError(fmt.Sprintf("invalid log format: %s", c.Observability.LogFormat), nil)
	}

	if c.Render.DPI <= 0 {
		return domain.SetupError(fmt.Sprintf("dpi must be greater than zero, got %d", c.Render.DPI), nil)
	}

	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return domain.SetupError(fmt.Sprintf("jpeg_quality must be between 1 and 100, got %d", c.Render.JPEGQuality), nil)
	}

	if c.Batch.Workers <= 0 {
		return domain.SetupError(fmt.Sprintf("workers must be greater than zero, got %d", c.Batch.Workers), nil)
	}

	if c.Batch.MaxRetries < 0 {
		return domain.SetupError("max_retries cannot be negative", nil)
	}

	if c.Batch.RequestsPerSecond < 0 {
		return domain.SetupError("requests_per_second cannot be negative", nil)
	}

	if c.LLM.CallTimeout <= 0 {
		return domain.SetupError("call_timeout must be greater than zero", nil)
	}

	if c.LLM.MaxTokens <= 0 {
		return domain.SetupError("max_tokens must be greater than zero", nil)
	}

	switch c.Cache.Driver {
	case "", "none", "memory", "redis":
	default:
		return domain.SetupError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.SetupError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	return nil
}

// ValidateForConversion additionally requires the settings needed to call the model.
func (c *Config) ValidateForConversion() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return domain.SetupError("API key is required (use --api-key or set OPENAI_API_KEY)", nil)
	}

	if strings.TrimSpace(c.LLM.Model) == "" {
		return domain.SetupError("model name cannot be empty", nil)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("PDFDOWN_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("PDFDOWN_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}

	if v := os.Getenv("PDFDOWN_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return domain.ConfigError(fmt.Sprintf("invalid PDFDOWN_WORKERS %q", v), err)
		}
		cfg.Batch.Workers = workers
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("PDFDOWN_HISTORY_DB"); v != "" {
		cfg.History.Path = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return domain.ConfigError(fmt.Sprintf("invalid SERVER_PORT %q", v), err)
		}
		cfg.Server.Port = port
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
