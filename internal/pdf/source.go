package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/observability"
)

// Options configures a Source
type Options struct {
	DPI       int
	Quality   int
	OutputDir string
}

// Source implements domain.PageSource for PDFs and single JPEG/PNG images
type Source struct {
	converter *Converter
	validator *Validator
	quality   int
	logger    *observability.Logger
}

// NewSource validates the options and creates a page source
func NewSource(opts Options, logger *observability.Logger) (*Source, error) {
	if opts.DPI == 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}

	validator := NewValidator()
	if err := validator.ValidateDPI(opts.DPI); err != nil {
		return nil, err
	}
	if err := validator.ValidateQuality(opts.Quality); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Source{
		converter: NewConverter(opts.DPI, opts.Quality, opts.OutputDir),
		validator: validator,
		quality:   opts.Quality,
		logger:    logger.WithOperation("render"),
	}, nil
}

// Pages renders the document at path into an ordered list of pages
func (s *Source) Pages(ctx context.Context, path string) ([]domain.Page, domain.Document, error) {
	doc := domain.Document{FilePath: path}

	size, err := s.validator.ValidatePath(path)
	if err != nil {
		return nil, doc, err
	}
	if size > largeFileSize {
		s.logger.Warn().Str("path", path).Int("size_mb", int(size/(1024*1024))).
			Msg("Input file is very large, processing may take a while")
	}

	contentType, err := DetectContentType(path)
	if err != nil {
		return nil, doc, err
	}
	doc.ContentType = contentType

	var pages []domain.Page
	switch contentType {
	case domain.ContentTypePDF:
		pages, err = s.converter.Convert(ctx, path)
	case domain.ContentTypeJPEG:
		pages, err = s.jpegPage(path)
	case domain.ContentTypePNG:
		pages, err = s.pngPage(path)
	default:
		err = domain.PageSourceError(fmt.Sprintf("unsupported file type: %s", contentType), nil)
	}
	if err != nil {
		return nil, doc, err
	}

	doc.TotalPages = len(pages)
	s.logger.Info().Str("path", path).Str("content_type", contentType).Int("pages", len(pages)).
		Msg("Rendered document")

	return pages, doc, nil
}

// Close is a no-op; rendered pages are held in memory
func (s *Source) Close() error {
	return nil
}

func (s *Source) jpegPage(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.PageSourceError(fmt.Sprintf("cannot read image: %s", path), err)
	}
	if len(data) == 0 {
		return nil, domain.PageSourceError(fmt.Sprintf("image is empty: %s", path), nil)
	}
	return []domain.Page{{Index: 0, Image: data}}, nil
}

// pngPage transcodes a PNG to JPEG so the image matches the data URL media type.
func (s *Source) pngPage(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.PageSourceError(fmt.Sprintf("cannot read image: %s", path), err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.PageSourceError(fmt.Sprintf("cannot decode PNG: %s", path), err)
	}

	jpg, err := encodeJPEG(img, s.quality)
	if err != nil {
		return nil, domain.PageSourceError(fmt.Sprintf("cannot encode image: %s", path), err)
	}
	return []domain.Page{{Index: 0, Image: jpg}}, nil
}
