package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/pdfdown/internal/domain"
)

const (
	DefaultDPI     = 300
	DefaultQuality = 85
)

// Converter rasterizes PDF pages to JPEG using go-fitz
type Converter struct {
	dpi       int
	quality   int
	outputDir string
}

// NewConverter creates a new PDF converter. When outputDir is set every
// rendered page is also written there as page_0001.jpg, page_0002.jpg, ...
func NewConverter(dpi, quality int, outputDir string) *Converter {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &Converter{
		dpi:       dpi,
		quality:   quality,
		outputDir: outputDir,
	}
}

// Convert renders every page of the PDF at pdfPath. Pages are rendered
// sequentially because a fitz document is not safe for concurrent use.
func (c *Converter) Convert(ctx context.Context, pdfPath string) ([]domain.Page, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.PageSourceError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.PageSourceError("PDF has no pages", nil)
	}

	if c.outputDir != "" {
		if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create output directory %s", c.outputDir), err)
		}
	}

	pages := make([]domain.Page, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, float64(c.dpi))
		if err != nil {
			return nil, domain.PageSourceError(fmt.Sprintf("failed to render page %d", pageNum+1), err)
		}

		data, err := encodeJPEG(img, c.quality)
		if err != nil {
			return nil, domain.PageSourceError(fmt.Sprintf("failed to encode page %d as JPEG", pageNum+1), err)
		}

		if c.outputDir != "" {
			outputPath := filepath.Join(c.outputDir, fmt.Sprintf("page_%04d.jpg", pageNum+1))
			if err := os.WriteFile(outputPath, data, 0o644); err != nil {
				return nil, domain.IOError(fmt.Sprintf("failed to write page %d", pageNum+1), err)
			}
		}

		pages = append(pages, domain.Page{Index: pageNum, Image: data})
	}

	return pages, nil
}

// encodeJPEG encodes an image with the given quality
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
