package domain

import "context"

// PageSource turns an input document into an ordered list of page images
type PageSource interface {
	// Pages renders every page of the document at path
	Pages(ctx context.Context, path string) ([]Page, Document, error)

	// Close releases resources held by the source
	Close() error
}

// Transcriber converts a single page image into Markdown text
type Transcriber interface {
	// Transcribe performs one transcription call and classifies failures as *TranscriptionError
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface
type TranscriberFunc func(ctx context.Context, image []byte) (string, error)

// Transcribe calls f(ctx, image)
func (f TranscriberFunc) Transcribe(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
