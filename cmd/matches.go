package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/constants"
	"github.com/kozaktomas/evidence-faces/internal/database"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Query and maintain persisted match records",
	Long: `Commands for reviewing match records stored in PostgreSQL.

Records are insert-only; 'matches purge' is the single delete path and always
needs a filter. All commands require DATABASE_URL.`,
}

var matchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List match records, newest first",
	Long: `List match records, newest first.

Examples:
  evidence-faces matches list --run-id 3f2a...
  evidence-faces matches list --subject alice --max-distance 0.5 --json`,
	Args: cobra.NoArgs,
	RunE: runMatchesList,
}

var matchesUnidentifiedCmd = &cobra.Command{
	Use:   "unidentified",
	Short: "List records without a subject label",
	Long: `List records that carry no subject label. With --copy-to the source files of
those records are copied into a directory for manual labeling; files already
present there are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runMatchesUnidentified,
}

var matchesTopSubjectsCmd = &cobra.Command{
	Use:   "top-subjects",
	Short: "Rank subjects by the number of evidence files they appear in",
	Args:  cobra.NoArgs,
	RunE:  runMatchesTopSubjects,
}

var matchesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete match records selected by a filter",
	Long: `Delete match records selected by a filter, for example a dry run persisted
by mistake. At least one filter is required and --yes must be given.

Examples:
  evidence-faces matches purge --run-id 3f2a... --yes`,
	Args: cobra.NoArgs,
	RunE: runMatchesPurge,
}

var matchesSimilarCmd = &cobra.Command{
	Use:   "similar <image>",
	Short: "Find earlier probes whose faces resemble the faces of an image",
	Long: `Embed every face of an image and look up stored probe embeddings within
--max-distance. This links the same unknown person across evidence files even
when no gallery subject matched.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatchesSimilar,
}

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.AddCommand(matchesListCmd, matchesUnidentifiedCmd, matchesTopSubjectsCmd, matchesPurgeCmd, matchesSimilarCmd)

	for _, c := range []*cobra.Command{matchesListCmd, matchesPurgeCmd} {
		c.Flags().String("run-id", "", "Only records of this run")
		c.Flags().String("source", "", "Only records of this probe file")
		c.Flags().String("subject", "", "Only records of this subject")
		c.Flags().Float64("max-distance", 0, "Only records with distance at most this value (0 = any)")
	}
	matchesListCmd.Flags().Int("limit", constants.DefaultListLimit, "Maximum number of records (0 = all)")
	matchesListCmd.Flags().Bool("json", false, "Output as JSON")

	matchesUnidentifiedCmd.Flags().Int("limit", constants.DefaultListLimit, "Maximum number of records (0 = all)")
	matchesUnidentifiedCmd.Flags().String("copy-to", "", "Copy the source files into this directory")
	matchesUnidentifiedCmd.Flags().Bool("json", false, "Output as JSON")

	matchesTopSubjectsCmd.Flags().Int("limit", constants.DefaultTopSubjects, "Number of subjects to show")
	matchesTopSubjectsCmd.Flags().Bool("json", false, "Output as JSON")

	matchesPurgeCmd.Flags().Bool("yes", false, "Confirm deletion")

	matchesSimilarCmd.Flags().Int("limit", constants.DefaultTopSubjects, "Maximum number of probes per face")
	matchesSimilarCmd.Flags().Float64("max-distance", 0.6, "Maximum embedding distance (0 = any)")
	matchesSimilarCmd.Flags().Bool("json", false, "Output as JSON")
}

func matchFilterFromFlags(cmd *cobra.Command) database.MatchFilter {
	f := database.MatchFilter{
		RunID:       mustGetString(cmd, "run-id"),
		Source:      mustGetString(cmd, "source"),
		Subject:     mustGetString(cmd, "subject"),
		MaxDistance: mustGetFloat64(cmd, "max-distance"),
	}
	if cmd.Flags().Lookup("limit") != nil {
		f.Limit = mustGetInt(cmd, "limit")
	}
	return f
}

// openStore connects to PostgreSQL and returns the match writer, which also reads.
func openStore(cmd *cobra.Command) (database.FaceMatchWriter, func(), error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	pool, err := openDatabase(context.Background(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := database.GetMatchWriter(context.Background())
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return store, closeQuietly(pool), nil
}

func runMatchesList(cmd *cobra.Command, _ []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	records, err := store.ListMatches(context.Background(), matchFilterFromFlags(cmd))
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(nonNil(records))
	}
	printRecords(records)
	return nil
}

func runMatchesUnidentified(cmd *cobra.Command, _ []string) error {
	limit := mustGetInt(cmd, "limit")
	copyTo := mustGetString(cmd, "copy-to")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	if copyTo != "" {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := buildPipeline(ctx, cfg, logger, true, nil)
		if err != nil {
			return err
		}
		defer p.Close()
		reader, err := database.GetMatchReader(ctx)
		if err != nil {
			return err
		}
		n, err := p.engine.CollectUnidentified(ctx, reader, copyTo, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"copied": n, "dir": copyTo})
		}
		fmt.Printf("Copied %d files to %s\n", n, copyTo)
		return nil
	}

	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	records, err := store.ListUnidentified(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(nonNil(records))
	}
	printRecords(records)
	return nil
}

func runMatchesTopSubjects(cmd *cobra.Command, _ []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	subjects, err := store.CountBySubject(context.Background(), limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(nonNil(subjects))
	}
	if len(subjects) == 0 {
		fmt.Println("No identified subjects yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tFILES\tRECORDS\tBEST")
	for _, s := range subjects {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\n", s.Subject, s.Sources, s.Records, s.BestDistance)
	}
	return w.Flush()
}

func runMatchesPurge(cmd *cobra.Command, _ []string) error {
	filter := matchFilterFromFlags(cmd)
	if filter.Empty() {
		return database.ErrEmptyFilter
	}
	if !mustGetBool(cmd, "yes") {
		return errors.New("refusing to delete records without --yes")
	}

	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.PurgeMatches(context.Background(), filter)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records\n", n)
	return nil
}

func runMatchesSimilar(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	maxDistance := mustGetFloat64(cmd, "max-distance")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, true, nil)
	if err != nil {
		return err
	}
	defer p.Close()
	reader, err := database.GetMatchReader(ctx)
	if err != nil {
		return err
	}

	faces, err := p.engine.SimilarProbes(ctx, reader, args[0], limit, maxDistance)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(faces)
	}
	if len(faces) == 0 {
		fmt.Println("No faces could be embedded.")
		return nil
	}
	for i, f := range faces {
		label := "whole image"
		if f.FaceBBox != nil {
			label = f.FaceBBox.String()
		}
		fmt.Printf("Face %d (%s):\n", i+1, label)
		if len(f.Probes) == 0 {
			fmt.Println("  no similar probes")
			continue
		}
		for _, s := range f.Probes {
			fmt.Printf("  %.4f  %s  (run %s)\n", s.Distance, s.Record.Source, s.Record.RunID)
		}
	}
	return nil
}

func printRecords(records []database.FaceMatchRecord) {
	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tSUBJECT\tGALLERY\tDISTANCE\tRUN")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.4f\t%s\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Source,
			orDash(r.Subject), orDash(r.GalleryPath), r.Distance, shortID(r.RunID))
	}
	_ = w.Flush()
	fmt.Printf("\n%d records\n", len(records))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func shortID(id string) string {
	if len(id) > 8 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
