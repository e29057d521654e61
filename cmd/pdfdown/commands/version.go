package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pdfdown version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pdfdown version %s\n", global.version)
		},
	}
}
