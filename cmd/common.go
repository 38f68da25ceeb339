package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/database/postgres"
	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/engine"
	"github.com/kozaktomas/evidence-faces/internal/gallery"
	"github.com/kozaktomas/evidence-faces/internal/logging"
	"github.com/kozaktomas/evidence-faces/internal/video"
)

// addMatchFlags registers the matching knobs shared by search, scan and serve.
// Defaults come from the built-in configuration; a flag only overrides the
// environment when it is set explicitly.
func addMatchFlags(cmd *cobra.Command) {
	d := config.Defaults()
	cmd.Flags().Float64("threshold", d.Match.Threshold, "Maximum accepted distance (MATCH_THRESHOLD)")
	cmd.Flags().Int("top-k", d.Match.TopK, "Candidates kept per face or subject of an image (MATCH_TOP_K)")
	cmd.Flags().Int("video-top-k", d.Match.VideoTopK, "Candidates kept per face of a sampled video frame (MATCH_VIDEO_TOP_K)")
	cmd.Flags().Float64("interval", d.Video.Interval, "Seconds between sampled video frames (VIDEO_INTERVAL)")
	cmd.Flags().Bool("use-index", d.Match.UseIndex, "Pre-filter large galleries with an HNSW index (MATCH_USE_INDEX)")
	cmd.Flags().Bool("no-subject-embeddings", false, "Compare every labeled image instead of subject centroids first")
}

// addPersistFlags registers the flags of commands that can write match records.
func addPersistFlags(cmd *cobra.Command) {
	d := config.Defaults()
	cmd.Flags().Bool("persist", false, "Write match records to the database")
	cmd.Flags().Bool("aggregate", d.Match.Aggregate, "Persist only the best candidate per face or subject (MATCH_AGGREGATE)")
	cmd.Flags().Bool("no-provenance", false, "Do not require probes to be registered evidence files")
	cmd.Flags().String("unidentified-dir", d.Match.UnidentifiedDir, "Where aggregate mode copies probes without any match (MATCH_UNIDENTIFIED_DIR)")
	cmd.Flags().String("run-id", "", "Run identifier stamped on records (default: random UUID)")
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// loadConfig reads the configuration, applies explicitly set flags on top and
// builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}

	if flagChanged(cmd, "log-level") {
		cfg.Log.Level = mustGetString(cmd, "log-level")
	}
	if flagChanged(cmd, "log-format") {
		cfg.Log.Format = mustGetString(cmd, "log-format")
	}
	if flagChanged(cmd, "threshold") {
		cfg.Match.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if flagChanged(cmd, "top-k") {
		cfg.Match.TopK = mustGetInt(cmd, "top-k")
	}
	if flagChanged(cmd, "video-top-k") {
		cfg.Match.VideoTopK = mustGetInt(cmd, "video-top-k")
	}
	if flagChanged(cmd, "interval") {
		cfg.Video.Interval = mustGetFloat64(cmd, "interval")
	}
	if flagChanged(cmd, "use-index") {
		cfg.Match.UseIndex = mustGetBool(cmd, "use-index")
	}
	if flagChanged(cmd, "no-subject-embeddings") {
		cfg.Match.UseSubjectEmbeddings = !mustGetBool(cmd, "no-subject-embeddings")
	}
	if flagChanged(cmd, "aggregate") {
		cfg.Match.Aggregate = mustGetBool(cmd, "aggregate")
	}
	if flagChanged(cmd, "no-provenance") {
		cfg.Database.RequireProvenance = !mustGetBool(cmd, "no-provenance")
	}
	if flagChanged(cmd, "unidentified-dir") {
		cfg.Match.UnidentifiedDir = mustGetString(cmd, "unidentified-dir")
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

// openDatabase connects to PostgreSQL, applies migrations and registers the repositories.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Initialize(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pool, nil
}

// pipeline is a fully wired engine plus what must be released afterwards.
type pipeline struct {
	engine  *engine.Engine
	loader  *gallery.Loader
	backend []string
	pool    *postgres.Pool
}

func (p *pipeline) Close() {
	if p.pool != nil {
		_ = p.pool.Close()
	}
}

// closeQuietly adapts c to a deferred cleanup func whose error nobody reads.
func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// buildPipeline wires backends, gallery loader, video sampler and, when persist is set,
// the database sink into an engine. progress receives gallery build progress bars.
func buildPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger, persist bool, progress io.Writer) (*pipeline, error) {
	builder := embedding.NewBuilder(cfg, logger)
	embedders := builder.Embedders()
	if embedders.Len() == 0 {
		return nil, fmt.Errorf("no usable embedding backend among %v: %w", cfg.Embedding.Backends, embedding.ErrBackendUnavailable)
	}
	detectors := builder.Detectors()

	loader := gallery.NewLoader(embedders, logger)
	loader.Progress = progress

	deps := engine.Deps{
		Detector: detectors,
		Embedder: embedders,
		Loader:   loader,
	}

	if source, err := video.NewSource(cfg.Video); err != nil {
		logger.Warn().Err(err).Msg("Video source unavailable, video probes will fail")
	} else {
		deps.Sampler = video.NewSampler(source, detectors, embedders, cfg.Video.DefaultFPS, logger)
	}

	p := &pipeline{loader: loader, backend: embedders.Names()}
	if persist {
		pool, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		p.pool = pool
		if deps.Sink, err = database.GetMatchWriter(ctx); err != nil {
			p.Close()
			return nil, err
		}
		if cfg.Database.RequireProvenance {
			if deps.Evidence, err = database.GetEvidenceReader(ctx); err != nil {
				p.Close()
				return nil, err
			}
		}
	}

	eng, err := engine.New(engine.OptionsFromConfig(cfg), deps, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.engine = eng
	return p, nil
}

// progressWriter returns where gallery build progress goes: nowhere in JSON mode.
func progressWriter(jsonOutput bool) io.Writer {
	if jsonOutput {
		return nil
	}
	return os.Stderr
}

func outputJSON(data any) error {
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// writeJSONFile writes data as indented JSON to path, creating or truncating it.
func writeJSONFile(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := writeJSON(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
