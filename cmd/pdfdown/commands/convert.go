package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfdown/cmd/pdfdown/ui"
	"github.com/spherical/pdfdown/internal/config"
	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/pkg/converter"
)

type convertOptions struct {
	input      string
	output     string
	outputDir  string
	dpi        int
	workers    int
	apiKey     string
	model      string
	maxRetries int
	rps        float64
	cache      string
	noHistory  bool
}

func newConvertCommand(global *globalOptions) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a PDF or image to Markdown",
		Long: `Convert renders the input into page images, transcribes the pages in parallel
and prints the Markdown to stdout (or writes it to --output). Pages that fail are
skipped and logged; the command still succeeds.`,
		Example: `  pdfdown convert -i report.pdf > report.md
  pdfdown convert -i scan.png --model gpt-4o-mini -o scan.md
  pdfdown convert -i report.pdf --dpi 150 --workers 10 --output-dir ./pages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input PDF, JPEG or PNG file (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write Markdown to this file instead of stdout")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "also save rendered page images in this directory")
	cmd.Flags().IntVar(&opts.dpi, "dpi", 300, "rendering resolution for PDF pages")
	cmd.Flags().IntVar(&opts.workers, "workers", 5, "maximum concurrent transcription calls")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key (default $OPENAI_API_KEY)")
	cmd.Flags().StringVar(&opts.model, "model", "gpt-4o", "vision model identifier")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 2, "retries per page for transient failures")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "maximum requests per second (0 = unlimited)")
	cmd.Flags().StringVar(&opts.cache, "cache", "", "transcription cache: none, memory or redis")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "do not record this run in the history database")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// applyFlags overrides config values with the flags the user actually set.
func (o *convertOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.LLM.APIKey = o.apiKey
	}
	if flags.Changed("model") {
		cfg.LLM.Model = o.model
	}
	if flags.Changed("dpi") {
		cfg.Render.DPI = o.dpi
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = o.workers
	}
	if flags.Changed("output-dir") {
		cfg.Render.OutputDir = o.outputDir
	}
	if flags.Changed("max-retries") {
		cfg.Batch.MaxRetries = o.maxRetries
	}
	if flags.Changed("rps") {
		cfg.Batch.RequestsPerSecond = o.rps
	}
	if flags.Changed("cache") {
		cfg.Cache.Driver = o.cache
	}
	if o.noHistory {
		cfg.History.Path = ""
	}
}

func runConvert(cmd *cobra.Command, global *globalOptions, opts *convertOptions) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	opts.applyFlags(cmd, cfg)

	if err := cfg.ValidateForConversion(); err != nil {
		return err
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())

	client, err := converter.NewClientWithConfig(cfg, converter.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := convertWithProgress(ctx, client, opts.input)
	if err != nil {
		return err
	}

	if err := writeMarkdown(cmd, opts.output, result.Markdown); err != nil {
		return err
	}

	stats := result.Stats
	switch {
	case stats.PagesProcessed > 0 && stats.SuccessfulPages == 0:
		ui.Warning("No pages converted (%d failed)", stats.FailedPages)
	case stats.FailedPages > 0:
		ui.Warning("Converted %d/%d pages in %s, %d failed",
			stats.SuccessfulPages, stats.PagesProcessed, ui.FormatDuration(stats.TotalTime), stats.FailedPages)
	default:
		ui.Success("Converted %d/%d pages in %s",
			stats.SuccessfulPages, stats.PagesProcessed, ui.FormatDuration(stats.TotalTime))
	}
	if opts.output != "" {
		ui.Info("Markdown saved to %s", opts.output)
	}

	return nil
}

// convertWithProgress runs the conversion while drawing a spinner for page
// rendering and a progress bar for transcription.
func convertWithProgress(ctx context.Context, client *converter.Client, input string) (*converter.ConversionResult, error) {
	eventCh := make(chan converter.StreamEvent, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		spinner := ui.NewSpinner(fmt.Sprintf("Rendering %s...", input))
		spinner.Start()
		defer spinner.Stop()

		var bar *ui.ProgressBar
		for event := range eventCh {
			switch event.Type {
			case converter.EventPagesRendered:
				spinner.Stop()
				if total, ok := event.Payload.(int); ok && total > 0 {
					bar = ui.NewProgressBar(total, "Converting")
				}
			case converter.EventPageComplete, converter.EventPageFailed:
				if bar != nil {
					bar.Add()
				}
			}
		}
		if bar != nil {
			bar.Finish()
		}
	}()

	result, err := client.Process(ctx, input, eventCh)
	close(eventCh)
	wg.Wait()

	return result, err
}

func writeMarkdown(cmd *cobra.Command, path, markdown string) error {
	if path == "" {
		if markdown == "" {
			return nil
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), markdown)
		return err
	}

	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("write %s", path), err)
	}
	return nil
}
