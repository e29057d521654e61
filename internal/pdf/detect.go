package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/pdfdown/internal/domain"
)

var (
	magicPDF  = []byte("%PDF")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

// DetectContentType returns the content type of the file at path, judged by
// extension first and by leading magic bytes otherwise.
func DetectContentType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return domain.ContentTypePDF, nil
	case ".jpg", ".jpeg":
		return domain.ContentTypeJPEG, nil
	case ".png":
		return domain.ContentTypePNG, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", domain.PageSourceError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	header := make([]byte, 8)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", domain.PageSourceError(fmt.Sprintf("cannot read file: %s", path), err)
	}

	if ct := sniff(header[:n]); ct != "" {
		return ct, nil
	}
	return "", domain.PageSourceError(fmt.Sprintf("cannot determine file type: %s", path), nil)
}

// sniff matches a file header against the supported magic numbers.
func sniff(header []byte) string {
	switch {
	case bytes.HasPrefix(header, magicPDF):
		return domain.ContentTypePDF
	case bytes.HasPrefix(header, magicJPEG):
		return domain.ContentTypeJPEG
	case bytes.HasPrefix(header, magicPNG):
		return domain.ContentTypePNG
	default:
		return ""
	}
}
