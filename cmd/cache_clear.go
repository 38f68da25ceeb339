package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/gallery"
)

var cacheClearCmd = &cobra.Command{
	Use:   "clear <gallery-dir>...",
	Short: "Delete gallery caches so the next search rebuilds them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)

	cacheClearCmd.Flags().Bool("labeled", false, "Delete the labeled cache at each gallery root")
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	labeled := mustGetBool(cmd, "labeled")

	for _, dir := range args {
		var err error
		if labeled {
			err = gallery.InvalidateLabeled(dir)
		} else {
			err = gallery.Invalidate(dir)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Cleared cache for %s\n", dir)
	}
	return nil
}
