// Package ui provides terminal output helpers for the pdfdown CLI. Everything
// is written to stderr so stdout can carry the converted Markdown.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	out   io.Writer = os.Stderr
	quiet bool
)

// InitUI applies the color and quiet settings.
func InitUI(noColor, quietMode bool) {
	quiet = quietMode
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects UI output, mainly for tests.
func SetOutput(w io.Writer) {
	out = w
}

// ProgressBar wraps a progressbar instance for page progress.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a new progress bar with the given total and description.
func NewProgressBar(total int, description string) *ProgressBar {
	if quiet {
		return &ProgressBar{}
	}
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Add advances the bar by one page.
func (p *ProgressBar) Add() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish completes the progress bar.
func (p *ProgressBar) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Spinner wraps a spinner instance for indeterminate progress display.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	if quiet {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " " + message
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	if s.spinner != nil {
		s.spinner.Start()
	}
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

// Success displays a success message.
func Success(format string, args ...interface{}) {
	printf(color.New(color.FgGreen), "✓", format, args...)
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	printf(color.New(color.FgYellow), "⚠", format, args...)
}

// Error displays an error message. It is shown even in quiet mode.
func Error(format string, args ...interface{}) {
	c := color.New(color.FgRed)
	c.Fprintf(out, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	printf(color.New(color.FgCyan), "ℹ", format, args...)
}

func printf(c *color.Color, symbol, format string, args ...interface{}) {
	if quiet {
		return
	}
	c.Fprintf(out, "%s %s\n", symbol, fmt.Sprintf(format, args...))
}
