package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// TuneReport describes best-match distances of a probe set against one gallery.
type TuneReport struct {
	Gallery   string                  `json:"gallery"`
	Labeled   bool                    `json:"labeled"`
	Probes    int                     `json:"probes"`
	Skipped   int                     `json:"skipped"`
	Distances []float64               `json:"distances"`
	Stats     facematch.DistanceStats `json:"stats"`
}

// Tune computes the best distance of every probe face regardless of the configured
// threshold and reports how many probes each candidate threshold would accept.
// Probes that cannot be decoded or embedded are counted as skipped.
func (e *Engine) Tune(ctx context.Context, probes []string, galleryDir string, labeled bool, thresholds []float64) (*TuneReport, error) {
	report := &TuneReport{Gallery: galleryDir, Labeled: labeled, Probes: len(probes)}

	var best func(facematch.Embedding) (float64, bool)
	if labeled {
		lg, err := e.loadLabeled(ctx, galleryDir)
		if err != nil {
			return nil, fmt.Errorf("loading labeled gallery %s: %w", galleryDir, err)
		}
		best = func(p facematch.Embedding) (float64, bool) {
			res := facematch.MatchLabeled(p, lg.Subjects, nil, facematch.LabeledOptions{Threshold: math.Inf(1), TopK: 1})
			if len(res.Subjects) == 0 {
				return 0, false
			}
			return res.Subjects[0].BestDistance, true
		}
	} else {
		g, err := e.loadGallery(ctx, galleryDir)
		if err != nil {
			return nil, fmt.Errorf("loading gallery %s: %w", galleryDir, err)
		}
		best = func(p facematch.Embedding) (float64, bool) {
			c, ok := facematch.Best(facematch.MatchGallery(p, g.Entries, math.Inf(1), 1))
			return c.Distance, ok
		}
	}

	for _, path := range probes {
		log := e.logger.With().Str("probe", path).Logger()
		img, ok := e.loadProbe(path, log)
		if !ok {
			report.Skipped++
			continue
		}

		var vectors []facematch.Embedding
		if labeled {
			if emb, ok := e.embedder.Embed(ctx, embedding.WholeImage(img)); ok {
				vectors = append(vectors, emb.Vector)
			}
		} else {
			for _, p := range e.probes(ctx, img, log) {
				vectors = append(vectors, p.embedding)
			}
		}
		if len(vectors) == 0 {
			report.Skipped++
			continue
		}

		for _, v := range vectors {
			if d, ok := best(v); ok {
				report.Distances = append(report.Distances, d)
			}
		}
	}

	report.Stats, _ = facematch.ComputeDistanceStats(report.Distances, thresholds)
	return report, nil
}
