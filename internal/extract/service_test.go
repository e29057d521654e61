package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfdown/internal/batch"
	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/history"
	"github.com/spherical/pdfdown/internal/observability"
)

type fakeSource struct {
	pages []domain.Page
	err   error
}

func (f *fakeSource) Pages(ctx context.Context, path string) ([]domain.Page, domain.Document, error) {
	doc := domain.Document{FilePath: path, ContentType: domain.ContentTypePDF, TotalPages: len(f.pages)}
	if f.err != nil {
		return nil, doc, f.err
	}
	return f.pages, doc, nil
}

func (f *fakeSource) Close() error { return nil }

func pagesOf(n int) []domain.Page {
	pages := make([]domain.Page, n)
	for i := range pages {
		pages[i] = domain.Page{Index: i, Image: []byte(fmt.Sprintf("page-%d", i))}
	}
	return pages
}

// letterTranscriber maps page-0 to "# A", page-1 to "# B", and fails the listed pages.
func letterTranscriber(failing ...string) domain.Transcriber {
	return domain.TranscriberFunc(func(ctx context.Context, image []byte) (string, error) {
		for _, f := range failing {
			if string(image) == f {
				return "", domain.APIError(500, "boom")
			}
		}
		var idx int
		fmt.Sscanf(string(image), "page-%d", &idx)
		return fmt.Sprintf("# %c", 'A'+idx), nil
	})
}

func newCoordinator(tr domain.Transcriber) *batch.Coordinator {
	return batch.NewCoordinator(tr, batch.Config{
		Workers: 3,
		Retry:   batch.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, nil)
}

type recorderStub struct {
	mu   sync.Mutex
	runs []history.Run
	err  error
}

func (r *recorderStub) RecordRun(ctx context.Context, run history.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func drain(ch chan domain.StreamEvent) []domain.StreamEvent {
	close(ch)
	var events []domain.StreamEvent
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func countType(events []domain.StreamEvent, t domain.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestProcess_AssemblesInPageOrder(t *testing.T) {
	svc := NewService(&fakeSource{pages: pagesOf(3)}, newCoordinator(letterTranscriber("page-1")), nil)

	eventCh := make(chan domain.StreamEvent, 100)
	result, err := svc.Process(context.Background(), "doc.pdf", eventCh)
	require.NoError(t, err)

	assert.Equal(t, "# A\n\n# C", result.Markdown)
	assert.Equal(t, 3, result.Stats.PagesProcessed)
	assert.Equal(t, 2, result.Stats.SuccessfulPages)
	assert.Equal(t, 1, result.Stats.FailedPages)
	assert.NotEmpty(t, result.Stats.RunID)
	assert.Equal(t, domain.ContentTypePDF, result.Document.ContentType)

	events := drain(eventCh)
	assert.Equal(t, domain.EventStart, events[0].Type)
	assert.Equal(t, domain.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, 1, countType(events, domain.EventPagesRendered))
	assert.Equal(t, 2, countType(events, domain.EventPageComplete))
	assert.Equal(t, 1, countType(events, domain.EventPageFailed))
}

func TestProcess_AllPagesFailIsNotAnError(t *testing.T) {
	svc := NewService(&fakeSource{pages: pagesOf(2)}, newCoordinator(letterTranscriber("page-0", "page-1")), nil)

	result, err := svc.Process(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.Markdown)
	assert.Equal(t, 2, result.Stats.FailedPages)
}

func TestProcess_EmptyDocument(t *testing.T) {
	calls := 0
	tr := domain.TranscriberFunc(func(ctx context.Context, image []byte) (string, error) {
		calls++
		return "x", nil
	})
	svc := NewService(&fakeSource{pages: nil}, newCoordinator(tr), nil)

	result, err := svc.Process(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.Markdown)
	assert.Zero(t, calls)
}

func TestProcess_PageSourceErrorIsReturned(t *testing.T) {
	srcErr := domain.PageSourceError("cannot determine file type", nil)
	svc := NewService(&fakeSource{err: srcErr}, newCoordinator(letterTranscriber()), nil)

	eventCh := make(chan domain.StreamEvent, 10)
	result, err := svc.Process(context.Background(), "notes.txt", eventCh)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, domain.IsType(err, domain.ErrorTypePageSource))

	events := drain(eventCh)
	assert.Equal(t, 1, countType(events, domain.EventError))
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := domain.TranscriberFunc(func(ctx context.Context, image []byte) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	svc := NewService(&fakeSource{pages: pagesOf(4)}, newCoordinator(tr), nil)

	_, err := svc.Process(ctx, "doc.pdf", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_RecordsHistory(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(&fakeSource{pages: pagesOf(3)}, newCoordinator(letterTranscriber("page-2")), nil,
		WithHistory(store, "gpt-4o"))

	result, err := svc.Process(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), result.Stats.RunID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", run.Model)
	assert.Equal(t, "doc.pdf", run.InputPath)
	assert.Equal(t, 2, run.Successful)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Pages, 3)
	assert.False(t, run.Pages[2].OK)
	assert.Equal(t, "api_error", run.Pages[2].ErrorKind)
	assert.Equal(t, 500, run.Pages[2].StatusCode)
}

func TestProcess_HistoryFailureDoesNotFailRun(t *testing.T) {
	rec := &recorderStub{err: errors.New("disk full")}
	svc := NewService(&fakeSource{pages: pagesOf(1)}, newCoordinator(letterTranscriber()), nil,
		WithHistory(rec, "gpt-4o"))

	result, err := svc.Process(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "# A", result.Markdown)
	assert.Len(t, rec.runs, 1)
}

func TestProcess_FullEventChannelDropsEvents(t *testing.T) {
	svc := NewService(&fakeSource{pages: pagesOf(5)}, newCoordinator(letterTranscriber()), nil)

	eventCh := make(chan domain.StreamEvent, 1)
	result, err := svc.Process(context.Background(), "doc.pdf", eventCh)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(result.Markdown, "# "))
	assert.Len(t, drain(eventCh), 1)
}

func TestProcess_LogsBatchSettings(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: &buf})
	coordinator := batch.NewCoordinator(letterTranscriber(), batch.Config{Workers: 2, RequestsPerSecond: 50}, nil)

	svc := NewService(&fakeSource{pages: pagesOf(1)}, coordinator, logger, WithCache(true))
	_, err := svc.Process(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"workers":2`)
	assert.Contains(t, out, `"rps":50`)
	assert.Contains(t, out, `"cached":true`)
	assert.Contains(t, out, `"operation":"extract"`)
}
