package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "evidence-faces",
	Short: "Match faces in case evidence against reference galleries",
	Long: `Evidence Faces detects faces in evidence images and videos, compares them
against unlabeled or labeled reference galleries and records every candidate
match for human review. Matches are investigative leads, never identifications.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (console, json); overrides LOG_FORMAT")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
