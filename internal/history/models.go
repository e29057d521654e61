// Package history records conversion runs and their per-page outcomes in SQLite.
package history

import (
	"errors"
	"time"

	"github.com/spherical/pdfdown/internal/domain"
)

// Run is one finished conversion.
type Run struct {
	ID          string
	InputPath   string
	ContentType string
	Model       string
	TotalPages  int
	Successful  int
	Failed      int
	Duration    time.Duration
	StartedAt   time.Time
	Pages       []PageRecord
}

// PageRecord is the stored outcome of one page.
type PageRecord struct {
	Index      int
	OK         bool
	ErrorKind  string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Chars      int
}

// PageRecords converts coordinator results into storable records.
func PageRecords(results []domain.PageResult) []PageRecord {
	records := make([]PageRecord, 0, len(results))
	for _, r := range results {
		rec := PageRecord{
			Index:    r.Index,
			OK:       r.OK(),
			Attempts: r.Attempts,
			Duration: r.Duration,
			Chars:    len(r.Text),
		}
		if !rec.OK {
			rec.ErrorKind = string(domain.KindOf(r.Err))
			rec.StatusCode = statusCode(r.Err)
		}
		records = append(records, rec)
	}
	return records
}

func statusCode(err error) int {
	var te *domain.TranscriptionError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
