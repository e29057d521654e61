// Package extract runs a whole conversion: render pages, transcribe them in
// parallel, assemble the Markdown and record the run.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdfdown/internal/batch"
	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/history"
	"github.com/spherical/pdfdown/internal/observability"
)

// HistoryRecorder stores finished runs
type HistoryRecorder interface {
	RecordRun(ctx context.Context, run history.Run) error
}

// Option configures a Service
type Option func(*Service)

// WithHistory records every finished run, tagged with the model name
func WithHistory(recorder HistoryRecorder, model string) Option {
	return func(s *Service) {
		s.history = recorder
		s.model = model
	}
}

// WithCache marks the transcriber as cache-backed in run logs
func WithCache(enabled bool) Option {
	return func(s *Service) {
		s.cached = enabled
	}
}

// Service orchestrates the conversion process
type Service struct {
	source      domain.PageSource
	coordinator *batch.Coordinator
	history     HistoryRecorder
	model       string
	cached      bool
	logger      *observability.Logger
}

// NewService creates a new conversion service
func NewService(source domain.PageSource, coordinator *batch.Coordinator, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Service{
		source:      source,
		coordinator: coordinator,
		logger:      logger.WithOperation("extract"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process converts the document at path into Markdown. Page source failures and
// cancellation of ctx are returned as errors; individual page failures are not.
// Events are sent to eventCh when it is non-nil and dropped if it is full.
func (s *Service) Process(ctx context.Context, path string, eventCh chan<- domain.StreamEvent) (*domain.ConversionResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := s.logger.WithRun(runID)

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting conversion of %s", path),
		Timestamp: time.Now(),
	})

	logger.Info().Str("path", path).Msg("Rendering pages")
	pages, doc, err := s.source.Pages(ctx, path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to render document")
		s.emitError(eventCh, err)
		return nil, err
	}

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventPagesRendered,
		Payload:   len(pages),
		Timestamp: time.Now(),
	})
	logger.Info().
		Int("pages", len(pages)).
		Int("workers", s.coordinator.Workers()).
		Float64("rps", s.coordinator.RequestsPerSecond()).
		Bool("cached", s.cached).
		Msg("Converting pages")

	outcome := s.coordinator.ConvertBatch(ctx, pages, func(r domain.PageResult) {
		event := domain.StreamEvent{
			Type:       domain.EventPageComplete,
			PageNumber: r.Index + 1,
			Timestamp:  time.Now(),
		}
		if !r.OK() {
			event.Type = domain.EventPageFailed
			event.Payload = r.Err.Error()
		}
		s.emitEvent(eventCh, event)
	})

	if err := ctx.Err(); err != nil {
		logger.Warn().Err(err).Msg("Conversion cancelled")
		s.emitError(eventCh, err)
		return nil, err
	}

	stats := domain.ProcessingStats{
		RunID:           runID,
		TotalTime:       time.Since(startTime),
		PagesProcessed:  len(pages),
		SuccessfulPages: len(outcome.Fragments),
		FailedPages:     outcome.FailureCount,
	}

	if len(pages) > 0 && stats.SuccessfulPages == 0 {
		logger.Warn().Int("pages", len(pages)).Msg("No page could be converted, output is empty")
	}

	s.record(ctx, logger, path, doc, stats, startTime, outcome)

	s.emitEvent(eventCh, domain.StreamEvent{
		Type: domain.EventComplete,
		Payload: fmt.Sprintf("Conversion complete: %d/%d pages successful in %v",
			stats.SuccessfulPages, stats.PagesProcessed, stats.TotalTime.Round(time.Millisecond)),
		Timestamp: time.Now(),
	})

	logger.Info().
		Int("successful", stats.SuccessfulPages).
		Int("failed", stats.FailedPages).
		Dur("duration", stats.TotalTime).
		Msg("Conversion complete")

	return &domain.ConversionResult{
		Markdown: batch.Assemble(outcome.Fragments),
		Document: doc,
		Stats:    stats,
	}, nil
}

// record stores the run in history. A failure is logged and does not fail the conversion.
func (s *Service) record(ctx context.Context, logger *observability.Logger, path string, doc domain.Document,
	stats domain.ProcessingStats, startTime time.Time, outcome domain.BatchOutcome) {
	if s.history == nil {
		return
	}

	run := history.Run{
		ID:          stats.RunID,
		InputPath:   path,
		ContentType: doc.ContentType,
		Model:       s.model,
		TotalPages:  stats.PagesProcessed,
		Successful:  stats.SuccessfulPages,
		Failed:      stats.FailedPages,
		Duration:    stats.TotalTime,
		StartedAt:   startTime,
		Pages:       history.PageRecords(outcome.Results),
	}
	if err := s.history.RecordRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run history")
	}
}

// emitEvent safely emits an event to the channel
func (s *Service) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (s *Service) emitError(eventCh chan<- domain.StreamEvent, err error) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
