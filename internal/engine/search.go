package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
	"github.com/kozaktomas/evidence-faces/internal/metrics"
)

// SearchImage matches every face of the probe image against the unlabeled gallery in
// galleryDir. A probe that cannot be decoded or embedded yields an empty result, not an
// error; only an unreadable gallery fails the call.
func (e *Engine) SearchImage(ctx context.Context, probePath, galleryDir string) (*ImageResult, error) {
	g, err := e.loadGallery(ctx, galleryDir)
	if err != nil {
		return nil, fmt.Errorf("loading gallery %s: %w", galleryDir, err)
	}

	log := e.logger.With().Str("probe", probePath).Logger()
	metrics.ProbesTotal.WithLabelValues("image").Inc()
	res := &ImageResult{Source: probePath, Results: []FaceResult{}}

	img, ok := e.loadProbe(probePath, log)
	if !ok {
		return res, nil
	}

	for _, p := range e.probes(ctx, img, log) {
		cands := g.Match(p.embedding, e.opts.Threshold, e.opts.TopK)
		metrics.CandidatesTotal.Add(float64(len(cands)))
		res.Results = append(res.Results, FaceResult{
			FaceBBox:  p.box,
			Backend:   p.backend,
			Matches:   toMatches(cands),
			embedding: p.embedding,
		})
	}
	res.NumFaces = len(res.Results)

	log.Debug().Int("faces", res.NumFaces).Int("gallery", len(g.Entries)).Msg("Image search done")
	return res, nil
}

// SearchLabeledImage identifies the subject shown in the probe image against the
// labeled gallery rooted at root. The whole probe image is embedded, so the probe is
// expected to be a face crop.
func (e *Engine) SearchLabeledImage(ctx context.Context, probePath, root string) (*LabeledResult, error) {
	lg, err := e.loadLabeled(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading labeled gallery %s: %w", root, err)
	}

	log := e.logger.With().Str("probe", probePath).Logger()
	metrics.ProbesTotal.WithLabelValues("labeled").Inc()
	res := &LabeledResult{Source: probePath, Mode: facematch.ModeExhaustive, SubjectMatches: []SubjectResult{}}

	img, ok := e.loadProbe(probePath, log)
	if !ok {
		return res, nil
	}

	emb, ok := e.embedder.Embed(ctx, embedding.WholeImage(img))
	if !ok {
		log.Warn().Msg("Probe embedding failed, probe yields no results")
		return res, nil
	}

	matched := facematch.MatchLabeled(emb.Vector, lg.Subjects, lg.centroids, facematch.LabeledOptions{
		Threshold:            e.opts.Threshold,
		TopK:                 e.opts.TopK,
		UseSubjectEmbeddings: e.opts.UseSubjectEmbeddings,
	})

	res.Mode = matched.Mode
	res.Backend = emb.Backend
	res.embedding = emb.Vector
	res.matched = matched
	for _, sm := range matched.Subjects {
		sr := SubjectResult{Subject: sm.Subject, BestDistance: sm.BestDistance, Matches: make([]SubjectImageMatch, 0, len(sm.Matches))}
		for _, c := range sm.Matches {
			sr.Matches = append(sr.Matches, SubjectImageMatch{Path: c.Target, Distance: c.Distance})
		}
		metrics.CandidatesTotal.Add(float64(len(sm.Matches)))
		res.SubjectMatches = append(res.SubjectMatches, sr)
	}
	res.NumSubjects = len(res.SubjectMatches)

	log.Debug().Str("mode", string(res.Mode)).Int("subjects", res.NumSubjects).Msg("Labeled search done")
	return res, nil
}

// SearchVideo samples the video every Interval seconds and matches each detected
// face against the unlabeled gallery in galleryDir. A video that cannot be opened
// yields an empty result.
func (e *Engine) SearchVideo(ctx context.Context, videoPath, galleryDir string) (*VideoResult, error) {
	if e.sampler == nil {
		return nil, ErrNoVideo
	}
	g, err := e.loadGallery(ctx, galleryDir)
	if err != nil {
		return nil, fmt.Errorf("loading gallery %s: %w", galleryDir, err)
	}

	log := e.logger.With().Str("video", videoPath).Logger()
	metrics.ProbesTotal.WithLabelValues("video").Inc()
	res := &VideoResult{Source: videoPath, Results: []FrameResult{}}

	frames, err := e.sampler.FindFaces(ctx, videoPath, e.opts.Interval)
	if err != nil {
		if errors.Is(err, embedding.ErrDecode) {
			metrics.DecodeFailuresTotal.Inc()
			log.Warn().Err(err).Msg("Failed to open video, skipping")
			return res, nil
		}
		return nil, err
	}

	for _, f := range frames {
		fr := FrameResult{Timestamp: f.Timestamp, Detections: make([]DetectionResult, 0, len(f.Faces))}
		for _, face := range f.Faces {
			cands := g.Match(face.Embedding, e.opts.Threshold, e.opts.VideoTopK)
			metrics.CandidatesTotal.Add(float64(len(cands)))
			fr.Detections = append(fr.Detections, DetectionResult{
				BBox:      face.Box,
				Backend:   face.Backend,
				Matches:   toMatches(cands),
				embedding: face.Embedding,
			})
		}
		res.Results = append(res.Results, fr)
	}
	res.FramesWithMatches = len(res.Results)

	log.Debug().Int("frames", res.FramesWithMatches).Msg("Video search done")
	return res, nil
}
