package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
)

// Mode selects which candidates become records.
type Mode string

const (
	// ModeFull persists every candidate within threshold.
	ModeFull Mode = "full"
	// ModeAggregate persists the best candidate per face, or per subject for labeled results.
	ModeAggregate Mode = "aggregate"
)

// ModeFor maps the aggregate flag to a Mode.
func ModeFor(aggregate bool) Mode {
	if aggregate {
		return ModeAggregate
	}
	return ModeFull
}

// Plan is what persisting one result would do.
type Plan struct {
	Records []database.FaceMatchRecord
	// CopyUnidentified is set when the probe source belongs in the unidentified directory.
	CopyUnidentified bool
}

// PersistReport describes a completed Persist call.
type PersistReport struct {
	Records          int    `json:"records"`
	UnidentifiedCopy string `json:"unidentified_copy,omitempty"`
}

// BuildRecords turns a result into records without touching storage.
func BuildRecords(res Result, mode Mode) Plan {
	switch r := res.(type) {
	case *ImageResult:
		return imageRecords(r, mode)
	case *LabeledResult:
		return labeledRecords(r, mode)
	case *VideoResult:
		return videoRecords(r, mode)
	}
	return Plan{}
}

func imageRecords(r *ImageResult, mode Mode) Plan {
	var plan Plan
	for _, face := range r.Results {
		base := database.FaceMatchRecord{
			Source:         r.Source,
			ProbeBBox:      face.FaceBBox,
			Backend:        face.Backend,
			ProbeEmbedding: face.embedding,
		}
		if mode == ModeAggregate {
			best, ok := bestMatch(face.Matches)
			if !ok {
				plan.CopyUnidentified = true
				continue
			}
			plan.Records = append(plan.Records, withMatch(base, best))
			continue
		}
		for _, m := range face.Matches {
			plan.Records = append(plan.Records, withMatch(base, m))
		}
	}
	return plan
}

func labeledRecords(r *LabeledResult, mode Mode) Plan {
	var plan Plan
	base := database.FaceMatchRecord{
		Source:         r.Source,
		Backend:        r.Backend,
		ProbeEmbedding: r.embedding,
	}

	if mode == ModeAggregate {
		for _, s := range r.Summary() {
			rec := base
			rec.Subject = ptr(s.Subject)
			rec.Distance = s.BestDistance
			if s.BestPath != "" {
				rec.GalleryPath = ptr(s.BestPath)
			}
			plan.Records = append(plan.Records, rec)
		}
		return plan
	}

	for _, sm := range r.SubjectMatches {
		for _, m := range sm.Matches {
			rec := base
			rec.Subject = ptr(sm.Subject)
			rec.GalleryPath = ptr(m.Path)
			rec.Distance = m.Distance
			plan.Records = append(plan.Records, rec)
		}
	}
	return plan
}

func videoRecords(r *VideoResult, mode Mode) Plan {
	var plan Plan
	for _, f := range r.Results {
		for _, d := range f.Detections {
			base := database.FaceMatchRecord{
				Source:         r.Source,
				ProbeBBox:      ptr(d.BBox),
				FrameTimestamp: ptr(f.Timestamp),
				Backend:        d.Backend,
				ProbeEmbedding: d.embedding,
			}
			if mode == ModeAggregate {
				if best, ok := bestMatch(d.Matches); ok {
					plan.Records = append(plan.Records, withMatch(base, best))
				}
				continue
			}
			for _, m := range d.Matches {
				plan.Records = append(plan.Records, withMatch(base, m))
			}
		}
	}
	return plan
}

// Persist writes the records of one result in a single transaction. With an evidence
// registry the probe must be registered and its hash is stamped on every record. Write
// failures are returned wrapped in database.ErrPersistence. In aggregate mode an image
// face without any match is not recorded; the probe file is copied to the unidentified
// directory instead.
func (e *Engine) Persist(ctx context.Context, res Result, mode Mode, runID string) (*PersistReport, error) {
	if e.sink == nil {
		return nil, ErrNoSink
	}
	source := res.SourcePath()
	log := e.logger.With().Str("source", source).Str("mode", string(mode)).Logger()

	sha, err := e.provenance(ctx, source)
	if err != nil {
		metrics.PersistenceFailuresTotal.Inc()
		return nil, err
	}

	plan := BuildRecords(res, mode)
	for i := range plan.Records {
		plan.Records[i].RunID = runID
		plan.Records[i].SourceSHA256 = sha
	}

	if err := e.sink.SaveMatches(ctx, plan.Records); err != nil {
		metrics.PersistenceFailuresTotal.Inc()
		if !errors.Is(err, database.ErrPersistence) {
			err = fmt.Errorf("%w: %w", database.ErrPersistence, err)
		}
		return nil, err
	}
	metrics.RecordsPersistedTotal.WithLabelValues(string(mode)).Add(float64(len(plan.Records)))

	report := &PersistReport{Records: len(plan.Records)}
	if plan.CopyUnidentified && e.opts.UnidentifiedDir != "" {
		dst, copied, err := copyIfAbsent(source, e.opts.UnidentifiedDir)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Failed to copy probe to unidentified directory")
		case copied:
			metrics.UnidentifiedCopiesTotal.Inc()
			report.UnidentifiedCopy = dst
			log.Info().Str("dst", dst).Msg("Copied unmatched probe for manual labeling")
		}
	}

	log.Debug().Int("records", report.Records).Msg("Persisted matches")
	return report, nil
}

// provenance returns the registered hash of source, or "" when no registry is configured.
func (e *Engine) provenance(ctx context.Context, source string) (string, error) {
	if e.evidence == nil {
		return "", nil
	}
	ev, err := e.evidence.GetEvidence(ctx, source)
	if err != nil {
		return "", fmt.Errorf("%w: looking up evidence %s: %w", database.ErrPersistence, source, err)
	}
	if ev == nil {
		return "", fmt.Errorf("%w: %s", database.ErrUnregisteredEvidence, source)
	}
	return ev.SHA256, nil
}

// CollectUnidentified copies the sources of records without a subject label into
// outDir. Existing files are never overwritten and missing sources are skipped.
// It returns the number of files copied.
func (e *Engine) CollectUnidentified(ctx context.Context, reader database.FaceMatchReader, outDir string, limit int) (int, error) {
	records, err := reader.ListUnidentified(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unidentified records: %w", err)
	}

	seen := make(map[string]bool)
	copied := 0
	for _, r := range records {
		if seen[r.Source] {
			continue
		}
		seen[r.Source] = true

		if _, err := os.Stat(r.Source); err != nil {
			e.logger.Debug().Str("source", r.Source).Msg("Unidentified source no longer exists")
			continue
		}
		_, ok, err := copyIfAbsent(r.Source, outDir)
		if err != nil {
			e.logger.Warn().Str("source", r.Source).Err(err).Msg("Failed to copy unidentified source")
			continue
		}
		if ok {
			copied++
			metrics.UnidentifiedCopiesTotal.Inc()
		}
	}
	return copied, nil
}

// copyIfAbsent copies src into dir under its base name unless that file already exists.
func copyIfAbsent(src, dir string) (string, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return dst, false, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return dst, false, nil
	}
	if err != nil {
		return dst, false, fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return dst, false, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return dst, false, fmt.Errorf("closing %s: %w", dst, err)
	}

	if info, err := in.Stat(); err == nil {
		_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return dst, true, nil
}

func bestMatch(matches []Match) (Match, bool) {
	cands := make([]facematch.Candidate, len(matches))
	for i, m := range matches {
		cands[i] = facematch.Candidate{Target: m.GalleryPath, Distance: m.Distance}
	}
	best, ok := facematch.Best(cands)
	if !ok {
		return Match{}, false
	}
	return Match{GalleryPath: best.Target, Distance: best.Distance}, true
}

func withMatch(base database.FaceMatchRecord, m Match) database.FaceMatchRecord {
	base.GalleryPath = ptr(m.GalleryPath)
	base.Distance = m.Distance
	return base
}

func ptr[T any](v T) *T {
	return &v
}
