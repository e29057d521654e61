package domain

import (
	"time"
)

// Page is one renderable unit of the input document.
type Page struct {
	Index int    // 0-based, unique and contiguous within one batch
	Image []byte // JPEG bytes, owned by the caller for the duration of the conversion
}

// PageNumber returns the 1-based page number used in logs and file names.
func (p Page) PageNumber() int {
	return p.Index + 1
}

// PageResult is the outcome of transcribing one Page. A nil Err means success.
type PageResult struct {
	Index    int
	Text     string
	Err      error
	Attempts int
	Duration time.Duration
}

// OK reports whether the page was transcribed successfully.
func (r PageResult) OK() bool {
	return r.Err == nil
}

// BatchOutcome holds the successful fragments of a batch in page index order.
type BatchOutcome struct {
	Fragments    []string
	FailureCount int
	Results      []PageResult // one per page, in index order
}

// Document represents the source file being processed
type Document struct {
	FilePath    string
	ContentType string
	TotalPages  int
}

// Supported input content types
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// EventType represents the type of stream event
type EventType string

const (
	EventStart         EventType = "start"
	EventPagesRendered EventType = "pages_rendered"
	EventPageComplete  EventType = "page_complete"
	EventPageFailed    EventType = "page_failed"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	PageNumber int         `json:"page_number,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ProcessingStats contains metadata about one conversion run
type ProcessingStats struct {
	RunID           string
	TotalTime       time.Duration
	PagesProcessed  int
	SuccessfulPages int
	FailedPages     int
}

// ConversionResult is the final output of a conversion run.
type ConversionResult struct {
	Markdown string
	Document Document
	Stats    ProcessingStats
}
