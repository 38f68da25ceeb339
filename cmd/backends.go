package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/video"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List compiled-in backends and which ones load with the current configuration",
	Long: `Print the embedding, detection and video backends compiled into this binary,
then try to build the configured chains and show which backends are usable.
Backends that fail to load are skipped at runtime, so this is the place to check
model paths and shared libraries.`,
	Args: cobra.NoArgs,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
	backendsCmd.Flags().Bool("json", false, "Output as JSON")
}

// BackendsResult lists compiled-in and usable backends.
type BackendsResult struct {
	Embedders       []string `json:"embedders"`
	Detectors       []string `json:"detectors"`
	VideoSources    []string `json:"video_sources"`
	ActiveEmbedders []string `json:"active_embedders"`
	ActiveDetectors []string `json:"active_detectors"`
	VideoSource     string   `json:"video_source"`
	VideoError      string   `json:"video_error,omitempty"`
}

func runBackends(cmd *cobra.Command, _ []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var result BackendsResult
	result.Embedders, result.Detectors = embedding.Available()
	result.VideoSources = video.Sources()

	builder := embedding.NewBuilder(cfg, logger)
	result.ActiveEmbedders = builder.Embedders().Names()
	result.ActiveDetectors = builder.Detectors().Names()
	result.VideoSource = cfg.Video.Source
	if _, err := video.NewSource(cfg.Video); err != nil {
		result.VideoError = err.Error()
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("Compiled in:")
	fmt.Printf("  embedders: %s\n", strings.Join(result.Embedders, ", "))
	fmt.Printf("  detectors: %s\n", strings.Join(result.Detectors, ", "))
	fmt.Printf("  video:     %s\n\n", strings.Join(result.VideoSources, ", "))

	fmt.Println("Active chains (in fallback order):")
	fmt.Printf("  embedders: %s\n", joinOrNone(result.ActiveEmbedders))
	fmt.Printf("  detectors: %s\n", joinOrNone(result.ActiveDetectors))
	if result.VideoError != "" {
		fmt.Printf("  video:     unavailable (%s)\n", result.VideoError)
	} else {
		fmt.Printf("  video:     %s\n", result.VideoSource)
	}
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
