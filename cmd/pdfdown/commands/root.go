package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfdown/cmd/pdfdown/ui"
	"github.com/spherical/pdfdown/internal/config"
	"github.com/spherical/pdfdown/internal/observability"
)

// globalOptions holds flags shared by every command.
type globalOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	quiet     bool
	version   string
}

// NewRootCommand builds the pdfdown command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "pdfdown",
		Short: "Convert PDFs and page images to Markdown with a vision model",
		Long: `pdfdown renders every page of a PDF (or takes a single JPEG/PNG image), sends the
pages to a chat-completions vision model in parallel and prints the Markdown of the
successfully converted pages in page order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.InitUI(opts.noColor, opts.quiet)
			return config.LoadDotEnv()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (default info)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "hide progress output")

	rootCmd.AddCommand(
		newConvertCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
		newCacheCommand(opts),
		newVersionCommand(opts),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute(version string) error {
	return NewRootCommand(version).ExecuteContext(context.Background())
}

// loadConfig reads the config file and environment, then applies the global flags.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Observability.LogFormat = o.logFormat
	}
	return cfg, nil
}

// newLogger creates the process logger. cfg must already be validated.
func newLogger(cfg *config.Config, w io.Writer) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		File:        cfg.Observability.LogFile,
		Output:      w,
		ServiceName: "pdfdown",
	})
}
