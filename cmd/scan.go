package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/constants"
	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/engine"
	"github.com/kozaktomas/evidence-faces/internal/video"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Search every image and video under a directory",
	Long: `Walk a directory of evidence and run every image and video through the
matcher. The gallery directory and the unidentified directory are skipped when
they live under the scanned tree. With --persist all records share one run ID.

A persistence failure stops the scan; decode and backend failures only skip
the affected file.

Examples:
  # Dry run: print a summary, write nothing
  evidence-faces scan evidence/ --gallery Images/known

  # Persist best matches, 8 probes at a time
  evidence-faces scan evidence/ --gallery Images/known --persist --aggregate --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("gallery", "", "Gallery directory (required)")
	scanCmd.Flags().Bool("labeled", false, "Treat the gallery as one subdirectory per subject")
	scanCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of probes processed in parallel")
	scanCmd.Flags().Int("limit", 0, "Process at most this many files (0 = all)")
	scanCmd.Flags().String("out", "", "Write all results as a JSON array to this file")
	scanCmd.Flags().Bool("json", false, "Output the summary as JSON instead of a progress bar")
	addMatchFlags(scanCmd)
	addPersistFlags(scanCmd)
	_ = scanCmd.MarkFlagRequired("gallery")
}

// ScanResult summarizes a scan.
type ScanResult struct {
	Success            bool   `json:"success"`
	RunID              string `json:"run_id,omitempty"`
	Files              int    `json:"files"`
	Skipped            int    `json:"skipped"`
	Faces              int    `json:"faces"`
	Matches            int    `json:"matches"`
	Records            int    `json:"records"`
	UnidentifiedCopies int    `json:"unidentified_copies"`
	Errors             int    `json:"errors"`
	DurationMs         int64  `json:"duration_ms"`
	DurationHuman      string `json:"duration_human,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	root := args[0]
	galleryDir := mustGetString(cmd, "gallery")
	labeled := mustGetBool(cmd, "labeled")
	concurrency := max(1, mustGetInt(cmd, "concurrency"))
	limit := mustGetInt(cmd, "limit")
	outPath := mustGetString(cmd, "out")
	jsonOutput := mustGetBool(cmd, "json")
	persist := mustGetBool(cmd, "persist")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	startTime := time.Now()

	files, err := listProbes(root, limit, galleryDir, cfg.Match.UnidentifiedDir)
	if err != nil {
		return err
	}
	result := ScanResult{}
	if labeled {
		var skipped []string
		files, skipped = splitVideos(files)
		for _, f := range skipped {
			logger.Warn().Str("file", f).Msg("Skipping video, labeled search only supports images")
		}
		result.Skipped = len(skipped)
	}
	result.Files = len(files)
	if persist {
		result.RunID = mustGetString(cmd, "run-id")
		if result.RunID == "" {
			result.RunID = uuid.NewString()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPipeline(ctx, cfg, logger, persist, progressWriter(jsonOutput))
	if err != nil {
		return err
	}
	defer p.Close()

	// Build the gallery once up front so workers do not race to create the cache.
	if err := p.engine.Preload(ctx, galleryDir, labeled); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Found %d probe files under %s\n\n", len(files), root)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	mode := engine.ModeFor(cfg.Match.Aggregate)
	results := make([]engine.Result, len(files))
	var (
		mu       sync.Mutex
		fatalErr error
	)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, path := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			res, err := p.engine.Search(ctx, path, galleryDir, labeled)
			var report *engine.PersistReport
			var persistErr error
			if err == nil && persist {
				report, persistErr = p.engine.Persist(ctx, res, mode, result.RunID)
			}

			mu.Lock()
			defer mu.Unlock()
			if bar != nil {
				_ = bar.Add(1)
			}
			if persistErr != nil {
				if fatalErr == nil {
					fatalErr = fmt.Errorf("%s: %w", path, persistErr)
					cancel()
				}
				return
			}
			if err != nil {
				result.Errors++
				logger.Warn().Str("path", path).Err(err).Msg("Skipping probe")
				return
			}
			results[i] = res
			faces, matches := countResult(res)
			result.Faces += faces
			result.Matches += matches
			if report != nil {
				result.Records += report.Records
				if report.UnidentifiedCopy != "" {
					result.UnidentifiedCopies++
				}
			}
		}(i, path)
	}

	wg.Wait()
	if bar != nil {
		fmt.Println()
	}
	if fatalErr != nil {
		return fmt.Errorf("persisting matches: %w", fatalErr)
	}

	if outPath != "" {
		done := make([]engine.Result, 0, len(results))
		for _, r := range results {
			if r != nil {
				done = append(done, r)
			}
		}
		if err := writeJSONFile(outPath, done); err != nil {
			return err
		}
	}

	duration := time.Since(startTime)
	result.Success = true
	result.DurationMs = duration.Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}
	result.DurationHuman = formatDuration(duration)

	fmt.Println("\nScan complete!")
	fmt.Printf("  Files:    %d\n", result.Files)
	if result.Skipped > 0 {
		fmt.Printf("  Skipped:  %d videos (labeled search only supports images)\n", result.Skipped)
	}
	fmt.Printf("  Faces:    %d\n", result.Faces)
	fmt.Printf("  Matches:  %d\n", result.Matches)
	if persist {
		fmt.Printf("  Run ID:   %s\n", result.RunID)
		fmt.Printf("  Records:  %d\n", result.Records)
		if result.UnidentifiedCopies > 0 {
			fmt.Printf("  Copied to %s: %d\n", cfg.Match.UnidentifiedDir, result.UnidentifiedCopies)
		}
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:   %d\n", result.Errors)
	}
	fmt.Printf("  Duration: %s\n", result.DurationHuman)
	return nil
}

// listProbes walks root in lexical order and returns image and video files, leaving out
// the excluded directories.
func listProbes(root string, limit int, exclude ...string) ([]string, error) {
	var skip []string
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			skip = append(skip, abs)
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, err := filepath.Abs(path); err == nil && isUnder(abs, skip) {
				return filepath.SkipDir
			}
			return nil
		}
		if !embedding.IsImageFile(path) && !video.IsVideoFile(path) {
			return nil
		}
		files = append(files, path)
		if limit > 0 && len(files) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return files, nil
}

// splitVideos separates video files from images, keeping the order of both.
func splitVideos(files []string) (images, videos []string) {
	for _, f := range files {
		if video.IsVideoFile(f) {
			videos = append(videos, f)
		} else {
			images = append(images, f)
		}
	}
	return images, videos
}

func isUnder(path string, dirs []string) bool {
	for _, d := range dirs {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// countResult returns the number of probe faces and candidates in a result.
func countResult(res engine.Result) (faces, matches int) {
	switch r := res.(type) {
	case *engine.ImageResult:
		faces = r.NumFaces
		for _, f := range r.Results {
			matches += len(f.Matches)
		}
	case *engine.LabeledResult:
		faces = 1
		for _, s := range r.SubjectMatches {
			matches += len(s.Matches)
		}
	case *engine.VideoResult:
		for _, f := range r.Results {
			faces += len(f.Detections)
			for _, d := range f.Detections {
				matches += len(d.Matches)
			}
		}
	}
	return faces, matches
}
