package cmd

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Gallery cache management commands",
	Long: `Commands for managing the embedding caches stored next to each gallery.

An unlabeled gallery keeps its cache in the gallery directory; a labeled gallery
keeps one cache at its root covering every subject. Searches build a missing or
unreadable cache automatically; these commands rebuild, inspect or drop caches
explicitly, for example after adding reference images.`,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}
