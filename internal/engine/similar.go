package engine

import (
	"context"
	"fmt"

	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// SimilarFace lists earlier probes stored close to one face of a new probe.
type SimilarFace struct {
	FaceBBox *facematch.BoundingBox  `json:"face_bbox"`
	Backend  string                  `json:"backend"`
	Probes   []database.SimilarProbe `json:"probes"`
}

// SimilarProbes embeds every face of the probe image and looks up earlier probes whose
// stored embedding lies within maxDistance. It links a face across evidence files even
// when no gallery subject matched it. An undecodable probe yields no faces.
func (e *Engine) SimilarProbes(
	ctx context.Context, reader database.FaceMatchReader, probePath string, limit int, maxDistance float64,
) ([]SimilarFace, error) {
	log := e.logger.With().Str("probe", probePath).Logger()
	out := []SimilarFace{}

	img, ok := e.loadProbe(probePath, log)
	if !ok {
		return out, nil
	}

	for _, p := range e.probes(ctx, img, log) {
		found, err := reader.FindSimilarProbes(ctx, p.embedding, limit, maxDistance)
		if err != nil {
			return nil, fmt.Errorf("finding similar probes: %w", err)
		}
		if found == nil {
			found = []database.SimilarProbe{}
		}
		out = append(out, SimilarFace{FaceBBox: p.box, Backend: p.backend, Probes: found})
	}
	return out, nil
}
