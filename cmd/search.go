package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/engine"
)

var searchCmd = &cobra.Command{
	Use:   "search <probe>",
	Short: "Match the faces of one image or video against a gallery",
	Long: `Match the faces of one probe against a reference gallery.

Images are matched face by face; when no face is detected the whole image is
used as a single probe. Videos are sampled every --interval seconds. With
--labeled the gallery is a directory of subject folders and the probe (usually
a face crop from "crop") is identified as a subject.

Examples:
  # Unlabeled gallery, human-readable summary
  evidence-faces search evidence/IMG_0042.jpg --gallery Images/known

  # Labeled gallery, JSON to a file, persisted as one run
  evidence-faces search crops/IMG_0042_face1.jpg --gallery Images/subjects --labeled \
      --out result.json --persist --aggregate`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().String("gallery", "", "Gallery directory (required)")
	searchCmd.Flags().Bool("labeled", false, "Treat the gallery as one subdirectory per subject")
	searchCmd.Flags().String("out", "", "Write the JSON result to this file")
	searchCmd.Flags().Bool("json", false, "Print the JSON result instead of a summary")
	addMatchFlags(searchCmd)
	addPersistFlags(searchCmd)
	_ = searchCmd.MarkFlagRequired("gallery")
}

func runSearch(cmd *cobra.Command, args []string) error {
	probe := args[0]
	galleryDir := mustGetString(cmd, "gallery")
	labeled := mustGetBool(cmd, "labeled")
	outPath := mustGetString(cmd, "out")
	jsonOutput := mustGetBool(cmd, "json")
	persist := mustGetBool(cmd, "persist")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(probe); err != nil {
		return fmt.Errorf("probe %s: %w", probe, err)
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, persist, progressWriter(jsonOutput))
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.engine.Search(ctx, probe, galleryDir, labeled)
	if err != nil {
		return err
	}

	if outPath != "" {
		if err := writeJSONFile(outPath, res); err != nil {
			return err
		}
		logger.Info().Str("out", outPath).Msg("Result written")
	}
	if jsonOutput {
		if err := outputJSON(res); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if !persist {
		return nil
	}
	runID := mustGetString(cmd, "run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	report, err := p.engine.Persist(ctx, res, engine.ModeFor(cfg.Match.Aggregate), runID)
	if err != nil {
		return fmt.Errorf("persisting matches: %w", err)
	}
	if !jsonOutput {
		fmt.Printf("\nPersisted %d records (run %s)\n", report.Records, runID)
		if report.UnidentifiedCopy != "" {
			fmt.Printf("Copied to %s for manual labeling\n", report.UnidentifiedCopy)
		}
	}
	return nil
}

// printResult prints a human-readable summary of a search result.
func printResult(res engine.Result) {
	switch r := res.(type) {
	case *engine.ImageResult:
		fmt.Printf("%s: %d face(s)\n", r.Source, r.NumFaces)
		for i, face := range r.Results {
			where := "whole image"
			if face.FaceBBox != nil {
				where = face.FaceBBox.String()
			}
			fmt.Printf("  Face %d (%s, %s): %d match(es)\n", i+1, where, face.Backend, len(face.Matches))
			for _, m := range face.Matches {
				fmt.Printf("    %.4f  %s\n", m.Distance, m.GalleryPath)
			}
		}
	case *engine.LabeledResult:
		fmt.Printf("%s: %d subject(s) [%s, %s]\n", r.Source, r.NumSubjects, r.Mode, r.Backend)
		for _, s := range r.SubjectMatches {
			fmt.Printf("  %-24s best %.4f\n", s.Subject, s.BestDistance)
			for _, m := range s.Matches {
				fmt.Printf("    %.4f  %s\n", m.Distance, m.Path)
			}
		}
	case *engine.VideoResult:
		fmt.Printf("%s: %d frame(s) with faces\n", r.Source, r.FramesWithMatches)
		for _, f := range r.Results {
			for _, d := range f.Detections {
				fmt.Printf("  %8.2fs %s: %d match(es)\n", f.Timestamp, d.BBox.String(), len(d.Matches))
				for _, m := range d.Matches {
					fmt.Printf("    %.4f  %s\n", m.Distance, m.GalleryPath)
				}
			}
		}
	}
}
