package batch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/spherical/pdfdown/internal/domain"
)

const (
	defaultMaxRetries     = 2
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// RetryConfig holds retry configuration. MaxRetries counts extra attempts after
// the first one; zero disables retries.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = defaultInitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = defaultMaxBackoff
	}
	return r
}

// shouldRetry determines if a failed attempt is worth repeating
func shouldRetry(err error) bool {
	var te *domain.TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// calculateBackoff calculates exponential backoff duration
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	// initialBackoff * 2^attempt
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	return time.Duration(backoff)
}

// transcribeWithRetry runs one page through the transcriber, retrying
// retryable failures. It returns the text, the number of attempts made and
// the last error.
func (c *Coordinator) transcribeWithRetry(ctx context.Context, page domain.Page) (string, int, error) {
	config := c.cfg.Retry
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt, domain.NetworkFailure(err)
		}

		text, err := c.attempt(ctx, page)
		if err == nil {
			return text, attempt + 1, nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == config.MaxRetries {
			return "", attempt + 1, err
		}

		backoff := calculateBackoff(attempt, config)
		c.logger.Warn().
			Int("page", page.PageNumber()).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Transcription failed, retrying")

		select {
		case <-ctx.Done():
			return "", attempt + 1, domain.NetworkFailure(ctx.Err())
		case <-time.After(backoff):
		}
	}

	return "", config.MaxRetries + 1, lastErr
}

// attempt performs a single rate-limited, time-bounded transcription call.
func (c *Coordinator) attempt(ctx context.Context, page domain.Page) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", domain.NetworkFailure(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	text, err := c.transcriber.Transcribe(callCtx, page.Image)
	if err != nil {
		var te *domain.TranscriptionError
		if !errors.As(err, &te) {
			// unclassified errors from custom transcribers are treated as transport failures
			return "", domain.NetworkFailure(err)
		}
		return "", err
	}
	return text, nil
}
