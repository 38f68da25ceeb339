package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/gallery"
)

var cacheInfoCmd = &cobra.Command{
	Use:   "info <gallery-dir>",
	Short: "Show the cache header of a gallery",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInfo,
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd)

	cacheInfoCmd.Flags().Bool("labeled", false, "Read the labeled cache at the gallery root")
	cacheInfoCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	labeled := mustGetBool(cmd, "labeled")
	jsonOutput := mustGetBool(cmd, "json")

	info, err := gallery.Info(args[0], labeled)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("no cache for %s, run 'cache build' or any search to create it", args[0])
	case errors.Is(err, gallery.ErrCacheCorrupt):
		return fmt.Errorf("%w (it will be rebuilt on next use)", err)
	case err != nil:
		return err
	}

	if jsonOutput {
		return outputJSON(info)
	}
	fmt.Printf("Cache:    %s\n", info.Path)
	fmt.Printf("Kind:     %s (format v%d)\n", info.Kind, info.Version)
	fmt.Printf("Entries:  %d\n", info.Entries)
	if info.Kind == gallery.KindLabeled {
		fmt.Printf("Subjects: %d\n", info.Subjects)
	}
	fmt.Printf("Backends: %v (dim %d)\n", info.Backends, info.Dim)
	fmt.Printf("Created:  %s\n", info.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Size:     %d bytes\n", info.SizeBytes)
	return nil
}
