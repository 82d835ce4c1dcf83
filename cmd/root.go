package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"votor/logx"
)

var rootCmd = &cobra.Command{
	Use:   "votor",
	Short: "Votor consensus node CLI",
	Long:  "Command line interface for running and managing a Votor finalization node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
