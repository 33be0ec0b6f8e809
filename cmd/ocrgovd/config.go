package main

import (
	"github.com/spf13/cobra"

	"github.com/clanwars/ocrgov/config/adaptive"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Reads the OCR_* environment variables exactly as serve does, applies
defaults and clamping, and prints the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := adaptive.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		return renderConfig(cfg.GetSnapshot())
	},
}
