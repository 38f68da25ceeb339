package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/constants"
)

var cropCmd = &cobra.Command{
	Use:   "crop <image>",
	Short: "Write each detected face of an image to its own file",
	Long: `Detect faces in an image and save every face as <image>_face<N>.jpg.
The crops can be used as probes for a labeled search, which embeds the whole
probe image.

Examples:
  evidence-faces crop scene.jpg --out crops/
  evidence-faces crop scene.jpg --out crops/ --margin 0.35`,
	Args: cobra.ExactArgs(1),
	RunE: runCrop,
}

func init() {
	rootCmd.AddCommand(cropCmd)

	cropCmd.Flags().String("out", "", "Output directory (required)")
	cropCmd.Flags().Float64("margin", constants.FaceCropMargin, "Grow each face box by this share of its size")
	cropCmd.Flags().Bool("json", false, "Output as JSON")
	_ = cropCmd.MarkFlagRequired("out")
}

func runCrop(cmd *cobra.Command, args []string) error {
	outDir := mustGetString(cmd, "out")
	margin := mustGetFloat64(cmd, "margin")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, false, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	paths, err := p.engine.CropFaces(ctx, args[0], outDir, margin)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(map[string]any{"source": args[0], "crops": paths})
	}
	if len(paths) == 0 {
		fmt.Println("No faces detected.")
		return nil
	}
	fmt.Printf("Saved %d face crops:\n", len(paths))
	for _, path := range paths {
		fmt.Printf("  %s\n", path)
	}
	return nil
}
