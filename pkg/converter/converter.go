// Package converter is the library entry point: it wires page rendering, the
// chat-completions client, caching, history and the batch coordinator into a
// single Client.
package converter

import (
	"context"
	"errors"
	"net/http"

	"github.com/spherical/pdfdown/internal/batch"
	"github.com/spherical/pdfdown/internal/cache"
	"github.com/spherical/pdfdown/internal/config"
	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/extract"
	"github.com/spherical/pdfdown/internal/history"
	"github.com/spherical/pdfdown/internal/llm"
	"github.com/spherical/pdfdown/internal/observability"
	"github.com/spherical/pdfdown/internal/pdf"
)

// Re-exported types for the public API
type (
	Config           = config.Config
	StreamEvent      = domain.StreamEvent
	EventType        = domain.EventType
	ConversionResult = domain.ConversionResult
	ProcessingStats  = domain.ProcessingStats
	Logger           = observability.Logger
)

// Event type constants
const (
	EventStart         = domain.EventStart
	EventPagesRendered = domain.EventPagesRendered
	EventPageComplete  = domain.EventPageComplete
	EventPageFailed    = domain.EventPageFailed
	EventError         = domain.EventError
	EventComplete      = domain.EventComplete
)

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// Client converts documents to Markdown
type Client struct {
	service *extract.Service
	source  *pdf.Source
	cache   cache.Client
	history *history.Store
	logger  *observability.Logger
}

// Option customizes a Client
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *observability.Logger
}

// WithHTTPClient sets the HTTP client used for transcription calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewClient creates a client from .env, the environment and the stock defaults.
func NewClient(opts ...Option) (*Client, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg, opts...)
}

// NewClientWithConfig validates cfg and builds a client. Setup errors are
// returned before any network activity.
func NewClientWithConfig(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, domain.SetupError("config is required", nil)
	}
	if err := cfg.ValidateForConversion(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	llmClient, err := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Endpoint:    cfg.LLM.Endpoint,
		Instruction: cfg.LLM.Instruction,
		MaxTokens:   cfg.LLM.MaxTokens,
		HTTPClient:  o.httpClient,
	})
	if err != nil {
		return nil, err
	}

	source, err := pdf.NewSource(pdf.Options{
		DPI:       cfg.Render.DPI,
		Quality:   cfg.Render.JPEGQuality,
		OutputDir: cfg.Render.OutputDir,
	}, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{source: source, logger: logger}

	var transcriber domain.Transcriber = llmClient
	cacheClient, err := newCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if cacheClient != nil {
		c.cache = cacheClient
		transcriber = cache.NewTranscriber(llmClient, cacheClient, cfg.Cache.TTL,
			llmClient.Model(), llmClient.Instruction(), logger)
		logger.Debug().Str("driver", cfg.Cache.Driver).Msg("Transcription cache enabled")
	}

	coordinator := batch.NewCoordinator(transcriber, batch.Config{
		Workers:     cfg.Batch.Workers,
		CallTimeout: cfg.LLM.CallTimeout,
		Retry: batch.RetryConfig{
			MaxRetries:     cfg.Batch.MaxRetries,
			InitialBackoff: cfg.Batch.InitialBackoff,
			MaxBackoff:     cfg.Batch.MaxBackoff,
		},
		RequestsPerSecond: cfg.Batch.RequestsPerSecond,
		Burst:             cfg.Batch.Burst,
	}, logger)

	serviceOpts := []extract.Option{extract.WithCache(c.cache != nil)}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			// history is optional; a broken database must not block conversions
			logger.Warn().Err(err).Str("path", cfg.History.Path).Msg("Run history disabled")
		} else {
			c.history = store
			serviceOpts = append(serviceOpts, extract.WithHistory(store, llmClient.Model()))
		}
	}

	c.service = extract.NewService(source, coordinator, logger, serviceOpts...)
	return c, nil
}

func newCache(cfg config.CacheConfig) (cache.Client, error) {
	switch cfg.Driver {
	case "", cache.DriverNone:
		return nil, nil
	case cache.DriverMemory:
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case cache.DriverRedis:
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, domain.SetupError("connect transcription cache", err)
		}
		return rc, nil
	default:
		return nil, domain.SetupError("unknown cache driver: "+cfg.Driver, nil)
	}
}

// ClearCache removes cached transcriptions for model, or every cached
// transcription when model is empty. Only the redis driver keeps entries
// between processes, so the other drivers are rejected.
func ClearCache(ctx context.Context, cfg *Config, model string) error {
	if cfg == nil {
		return domain.SetupError("config is required", nil)
	}
	switch cfg.Cache.Driver {
	case "", cache.DriverNone:
		return domain.ConfigError("transcription cache is disabled (set cache.driver or REDIS_URL)", nil)
	case cache.DriverMemory:
		return domain.ConfigError("the memory cache lives inside one process, there is nothing to clear", nil)
	}

	client, err := newCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := cache.Clear(ctx, client, model); err != nil {
		return domain.IOError("clear transcription cache", err)
	}
	return nil
}

// Convert converts the document at path and returns the assembled Markdown.
func (c *Client) Convert(ctx context.Context, path string) (*ConversionResult, error) {
	return c.service.Process(ctx, path, nil)
}

// Process converts the document at path, sending progress events to eventCh.
// Events are dropped when eventCh is full.
func (c *Client) Process(ctx context.Context, path string, eventCh chan<- StreamEvent) (*ConversionResult, error) {
	return c.service.Process(ctx, path, eventCh)
}

// History returns the run history store, or nil when history is disabled.
func (c *Client) History() *history.Store {
	return c.history
}

// Close releases the cache, history and page source.
func (c *Client) Close() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.history != nil {
		errs = append(errs, c.history.Close())
	}
	errs = append(errs, c.source.Close())
	return errors.Join(errs...)
}
