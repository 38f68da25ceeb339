package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cacheBuildCmd = &cobra.Command{
	Use:   "build <gallery-dir>...",
	Short: "Embed every gallery image and rewrite the cache",
	Long: `Embed every reference image of one or more galleries and rewrite their caches,
whether or not a cache already exists.

Examples:
  evidence-faces cache build Images/known
  evidence-faces cache build Images/subjects --labeled`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCacheBuild,
}

func init() {
	cacheCmd.AddCommand(cacheBuildCmd)

	cacheBuildCmd.Flags().Bool("labeled", false, "Treat each gallery as one subdirectory per subject")
	cacheBuildCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// BuildCacheResult is the outcome of rebuilding one gallery cache.
type BuildCacheResult struct {
	Gallery       string   `json:"gallery"`
	Labeled       bool     `json:"labeled"`
	Entries       int      `json:"entries"`
	Subjects      int      `json:"subjects,omitempty"`
	Backends      []string `json:"backends"`
	DurationMs    int64    `json:"duration_ms"`
	DurationHuman string   `json:"duration_human,omitempty"`
}

func runCacheBuild(cmd *cobra.Command, args []string) error {
	labeled := mustGetBool(cmd, "labeled")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, false, progressWriter(jsonOutput))
	if err != nil {
		return err
	}
	defer p.Close()

	results := make([]BuildCacheResult, 0, len(args))
	for _, dir := range args {
		startTime := time.Now()
		res := BuildCacheResult{Gallery: dir, Labeled: labeled}
		if labeled {
			l, err := p.loader.BuildLabeledGallery(ctx, dir)
			if err != nil {
				return fmt.Errorf("building %s: %w", dir, err)
			}
			res.Entries, res.Subjects, res.Backends = l.Len(), len(l.Subjects), l.Backends
		} else {
			g, err := p.loader.BuildGallery(ctx, dir)
			if err != nil {
				return fmt.Errorf("building %s: %w", dir, err)
			}
			res.Entries, res.Backends = len(g.Entries), g.Backends
		}
		duration := time.Since(startTime)
		res.DurationMs = duration.Milliseconds()
		if !jsonOutput {
			res.DurationHuman = formatDuration(duration)
		}
		results = append(results, res)
	}

	if jsonOutput {
		return outputJSON(results)
	}
	for _, r := range results {
		fmt.Printf("\n%s: %d images", r.Gallery, r.Entries)
		if r.Labeled {
			fmt.Printf(" across %d subjects", r.Subjects)
		}
		fmt.Printf(" (backends %v, %s)\n", r.Backends, r.DurationHuman)
	}
	return nil
}
