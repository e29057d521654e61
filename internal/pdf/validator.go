package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/spherical/pdfdown/internal/domain"
)

const (
	MinDPI = 1
	MaxDPI = 1200

	// inputs above this size are accepted but logged
	largeFileSize = 100 * 1024 * 1024
)

// Validator provides input validation for source documents
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePath checks that path points to a readable regular file and returns its size.
func (v *Validator) ValidatePath(path string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, domain.PageSourceError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.PageSourceError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return 0, domain.PageSourceError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return 0, domain.PageSourceError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, domain.PageSourceError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return info.Size(), nil
}

// ValidateDPI validates the rasterization resolution
func (v *Validator) ValidateDPI(dpi int) error {
	if dpi < MinDPI || dpi > MaxDPI {
		return domain.SetupError(fmt.Sprintf("dpi must be between %d and %d, got %d", MinDPI, MaxDPI, dpi), nil)
	}
	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.SetupError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
