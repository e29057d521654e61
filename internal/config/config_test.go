package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfdown/internal/domain"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "PDFDOWN_MODEL", "PDFDOWN_ENDPOINT", "PDFDOWN_WORKERS",
		"LOG_LEVEL", "LOG_FORMAT", "REDIS_URL", "PDFDOWN_HISTORY_DB", "SERVER_PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.LLM.Endpoint)
	assert.Equal(t, "Convert the image to Markdown", cfg.LLM.Instruction)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, 300, cfg.Render.DPI)
	assert.Equal(t, 5, cfg.Batch.Workers)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "none", cfg.Cache.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pdfdown.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: gpt-4o-mini
  call_timeout: 45s
batch:
  workers: 8
  requests_per_second: 2.5
render:
  dpi: 150
cache:
  driver: memory
  ttl: 1h
history:
  path: data/history.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.CallTimeout)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, 2.5, cfg.Batch.RequestsPerSecond)
	assert.Equal(t, 150, cfg.Render.DPI)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, filepath.Join(dir, "data", "history.db"), cfg.History.Path)

	// untouched sections keep their defaults
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, 85, cfg.Render.JPEGQuality)
}

func TestLoad_InstructionOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pdfdown.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  instruction: \"将图片转换为 Markdown\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "将图片转换为 Markdown", cfg.LLM.Instruction)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm: [not, a, map"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("PDFDOWN_MODEL", "gpt-4.1")
	t.Setenv("PDFDOWN_ENDPOINT", "http://localhost:9999/v1/chat/completions")
	t.Setenv("PDFDOWN_WORKERS", "3")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("PDFDOWN_HISTORY_DB", "/var/lib/pdfdown/history.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:9999/v1/chat/completions", cfg.LLM.Endpoint)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Cache.Redis.URL)
	assert.Equal(t, "/var/lib/pdfdown/history.db", cfg.History.Path)
}

func TestLoad_APIKeyFromFileWinsOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: sk-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
}

func TestLoad_InvalidWorkersEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFDOWN_WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero dpi", mutate: func(c *Config) { c.Render.DPI = 0 }},
		{name: "zero workers", mutate: func(c *Config) { c.Batch.Workers = 0 }},
		{name: "bad log level", mutate: func(c *Config) { c.Observability.LogLevel = "loud" }},
		{name: "bad log format", mutate: func(c *Config) { c.Observability.LogFormat = "xml" }},
		{name: "bad quality", mutate: func(c *Config) { c.Render.JPEGQuality = 0 }},
		{name: "negative retries", mutate: func(c *Config) { c.Batch.MaxRetries = -1 }},
		{name: "negative rate", mutate: func(c *Config) { c.Batch.RequestsPerSecond = -1 }},
		{name: "zero timeout", mutate: func(c *Config) { c.LLM.CallTimeout = 0 }},
		{name: "zero max tokens", mutate: func(c *Config) { c.LLM.MaxTokens = 0 }},
		{name: "bad cache driver", mutate: func(c *Config) { c.Cache.Driver = "memcached" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeSetup))
		})
	}
}

func TestValidateForConversion(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ValidateForConversion()
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeSetup))
	assert.Contains(t, err.Error(), "API key")

	cfg.LLM.APIKey = "sk-test"
	assert.NoError(t, cfg.ValidateForConversion())

	cfg.LLM.Model = " "
	assert.Error(t, cfg.ValidateForConversion())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFDOWN_MODEL", "")
	os.Unsetenv("PDFDOWN_MODEL")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PDFDOWN_MODEL=from-dotenv\n"), 0o644))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("PDFDOWN_MODEL"))
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", ServerConfig{Host: "127.0.0.1", Port: 8080}.Addr())
}
