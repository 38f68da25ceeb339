package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/constants"
	"github.com/kozaktomas/evidence-faces/internal/video"
)

var tuneCmd = &cobra.Command{
	Use:   "tune <probes-dir>",
	Short: "Report best-match distances to help choose a threshold",
	Long: `Match every image under a directory against a gallery without any threshold
and print the distribution of best-match distances, together with how many probes
each candidate threshold would accept. Distances depend on the embedding backend,
so tune with the same backend configuration used for scanning.

Examples:
  evidence-faces tune probes/ --gallery Images/known
  evidence-faces tune probes/ --gallery Images/subjects --labeled --thresholds 0.3,0.4,0.5`,
	Args: cobra.ExactArgs(1),
	RunE: runTune,
}

func init() {
	rootCmd.AddCommand(tuneCmd)

	tuneCmd.Flags().String("gallery", "", "Gallery directory (required)")
	tuneCmd.Flags().Bool("labeled", false, "Treat the gallery as one subdirectory per subject")
	tuneCmd.Flags().Float64Slice("thresholds", constants.DefaultTuneThresholds, "Thresholds to report coverage for")
	tuneCmd.Flags().Int("limit", 0, "Use at most this many probes (0 = all)")
	tuneCmd.Flags().Bool("json", false, "Output as JSON")
	_ = tuneCmd.MarkFlagRequired("gallery")
}

func runTune(cmd *cobra.Command, args []string) error {
	galleryDir := mustGetString(cmd, "gallery")
	labeled := mustGetBool(cmd, "labeled")
	thresholds := mustGetFloat64Slice(cmd, "thresholds")
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	files, err := listProbes(args[0], 0, galleryDir)
	if err != nil {
		return err
	}
	var probes []string
	for _, f := range files {
		if video.IsVideoFile(f) {
			continue
		}
		probes = append(probes, f)
		if limit > 0 && len(probes) >= limit {
			break
		}
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, false, progressWriter(jsonOutput))
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.engine.Tune(ctx, probes, galleryDir, labeled, thresholds)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(report)
	}

	fmt.Printf("Gallery: %s (labeled: %v, backends: %v)\n", report.Gallery, report.Labeled, p.backend)
	fmt.Printf("Probes:  %d (skipped %d)\n\n", report.Probes, report.Skipped)
	if report.Stats.N == 0 {
		fmt.Println("No distances computed.")
		return nil
	}
	s := report.Stats
	fmt.Printf("Best-match distances over %d faces:\n", s.N)
	fmt.Printf("  min %.4f  median %.4f  mean %.4f  max %.4f\n\n", s.Min, s.Median, s.Mean, s.Max)
	fmt.Println("Threshold  Accepted")
	for _, c := range s.Coverage {
		fmt.Printf("  %.3f    %5d  (%.1f%%)\n", c.Threshold, c.Count, c.Ratio*100)
	}
	return nil
}
