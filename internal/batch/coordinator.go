// Package batch fans a document's pages out to a transcriber and reassembles
// the results in page order.
package batch

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/observability"
)

const (
	defaultWorkers     = 5
	defaultCallTimeout = 120 * time.Second
)

// Separator joins page fragments in the assembled document.
const Separator = "\n\n"

// Config holds coordinator settings.
type Config struct {
	Workers           int           // hard cap on concurrent transcription calls
	CallTimeout       time.Duration // per attempt
	Retry             RetryConfig
	RequestsPerSecond float64 // 0 disables rate limiting
	Burst             int
}

// Observer is notified once per finished page. It may be called concurrently.
type Observer func(domain.PageResult)

// Coordinator dispatches one transcription per page with bounded concurrency.
type Coordinator struct {
	transcriber domain.Transcriber
	cfg         Config
	limiter     *rate.Limiter
	logger      *observability.Logger
}

// NewCoordinator creates a new batch coordinator.
func NewCoordinator(transcriber domain.Transcriber, cfg Config, logger *observability.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Coordinator{
		transcriber: transcriber,
		cfg:         cfg,
		limiter:     limiter,
		logger:      logger.WithOperation("batch").With().Int("workers", cfg.Workers).Logger(),
	}
}

// Workers returns the effective concurrency cap.
func (c *Coordinator) Workers() int {
	return c.cfg.Workers
}

// RequestsPerSecond returns the shared rate limit, 0 when unlimited.
func (c *Coordinator) RequestsPerSecond() float64 {
	return c.cfg.RequestsPerSecond
}

// ConvertBatch transcribes every page and returns the successful fragments in
// page index order. Page failures are logged and counted, never returned: a
// batch where every page fails yields an empty outcome, not an error.
func (c *Coordinator) ConvertBatch(ctx context.Context, pages []domain.Page, observe Observer) domain.BatchOutcome {
	if len(pages) == 0 {
		return domain.BatchOutcome{Fragments: []string{}, Results: []domain.PageResult{}}
	}

	// one slot per page, each written by exactly one task
	results := make([]domain.PageResult, len(pages))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	for i, page := range pages {
		g.Go(func() error {
			result := c.convertPage(ctx, page)
			results[i] = result

			if !result.OK() {
				c.logFailure(page, result)
			}
			if observe != nil {
				observe(result)
			}
			// never fail the group: one page must not affect the others
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(results, func(a, b domain.PageResult) int {
		return cmp.Compare(a.Index, b.Index)
	})

	return collect(results)
}

// convertPage produces the PageResult for a single page.
func (c *Coordinator) convertPage(ctx context.Context, page domain.Page) domain.PageResult {
	start := time.Now()

	text, attempts, err := c.transcribeWithRetry(ctx, page)
	if err == nil && strings.TrimSpace(text) == "" {
		err = domain.EmptyResult()
	}

	return domain.PageResult{
		Index:    page.Index,
		Text:     text,
		Err:      err,
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func (c *Coordinator) logFailure(page domain.Page, result domain.PageResult) {
	evt := c.logger.Error().
		Int("page", page.PageNumber()).
		Str("kind", string(domain.KindOf(result.Err))).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Err(result.Err)

	var te *domain.TranscriptionError
	if errors.As(result.Err, &te) && te.Kind == domain.KindAPIError {
		evt = evt.Int("status", te.StatusCode)
	}
	evt.Msg("Page transcription failed")
}

// collect splits ordered results into fragments and a failure count.
func collect(results []domain.PageResult) domain.BatchOutcome {
	outcome := domain.BatchOutcome{
		Fragments: make([]string, 0, len(results)),
		Results:   results,
	}
	for _, r := range results {
		if r.OK() {
			outcome.Fragments = append(outcome.Fragments, r.Text)
		} else {
			outcome.FailureCount++
		}
	}
	return outcome
}

// Assemble joins fragments with a blank line. No Markdown normalization is done.
func Assemble(fragments []string) string {
	return strings.Join(fragments, Separator)
}
