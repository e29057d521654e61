package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/pdfdown/cmd/pdfdown/ui"
	"github.com/spherical/pdfdown/pkg/converter"
)

func newCacheCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the transcription cache",
	}
	cmd.AddCommand(newCacheClearCommand(global))
	return cmd
}

func newCacheClearCommand(global *globalOptions) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached page transcriptions",
		Long:  "Clear removes cached transcriptions from the Redis cache, for one model with --model or for every model.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := converter.ClearCache(cmd.Context(), cfg, model); err != nil {
				return err
			}

			if model == "" {
				ui.Success("Cleared all cached transcriptions")
			} else {
				ui.Success("Cleared cached transcriptions for %s", model)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "only clear transcriptions made with this model")

	return cmd
}
