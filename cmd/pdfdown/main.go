package main

import (
	"os"

	"github.com/spherical/pdfdown/cmd/pdfdown/commands"
	"github.com/spherical/pdfdown/cmd/pdfdown/ui"
)

var version = "0.1.0"

func main() {
	if err := commands.Execute(version); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
