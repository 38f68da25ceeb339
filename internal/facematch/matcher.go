package facematch

import "sort"

// LabeledOptions controls a labeled gallery search.
type LabeledOptions struct {
	Threshold            float64
	TopK                 int  // <= 0 keeps every candidate
	UseSubjectEmbeddings bool // false forces the exhaustive per-image strategy
}

// MatchGallery compares a probe against every gallery entry, keeps entries within
// threshold and returns at most topK of them sorted by ascending distance.
// Ties keep gallery enumeration order. topK <= 0 means no limit.
func MatchGallery(probe Embedding, entries []Entry, threshold float64, topK int) []Candidate {
	if len(probe) == 0 {
		return nil
	}

	var out []Candidate
	for _, e := range entries {
		d := Distance(probe, e.Embedding)
		if !withinThreshold(d, threshold) {
			continue
		}
		out = append(out, Candidate{Target: e.Path, Distance: d})
	}
	return rank(out, topK)
}

// MatchLabeled searches a labeled gallery.
//
// With subject embeddings enabled it runs in two phases: phase 1 ranks subject centroids
// within threshold, phase 2 collects image-level evidence for the top-K subjects only.
// When phase 1 finds no subject, or subject embeddings are disabled, every image of every
// subject is compared instead. The fallback triggers on an empty phase 1 only, not on a
// weak best candidate.
func MatchLabeled(probe Embedding, subjects []Subject, centroids []SubjectEmbedding, opts LabeledOptions) LabeledResult {
	if len(probe) == 0 {
		return LabeledResult{Mode: ModeExhaustive}
	}

	if opts.UseSubjectEmbeddings {
		if matches := matchCentroids(probe, subjects, centroids, opts); len(matches) > 0 {
			return LabeledResult{Mode: ModeCentroid, Subjects: matches}
		}
	}
	return LabeledResult{Mode: ModeExhaustive, Subjects: matchExhaustive(probe, subjects, opts)}
}

func matchCentroids(probe Embedding, subjects []Subject, centroids []SubjectEmbedding, opts LabeledOptions) []SubjectMatch {
	entries := make([]Entry, 0, len(centroids))
	for _, c := range centroids {
		entries = append(entries, Entry{Path: c.Subject, Embedding: c.Embedding})
	}
	phase1 := MatchGallery(probe, entries, opts.Threshold, opts.TopK)
	if len(phase1) == 0 {
		return nil
	}

	bySubject := make(map[string][]Entry, len(subjects))
	for _, s := range subjects {
		bySubject[s.Name] = s.Entries
	}

	out := make([]SubjectMatch, 0, len(phase1))
	for _, c := range phase1 {
		matches := MatchGallery(probe, bySubject[c.Target], opts.Threshold, opts.TopK)
		for i := range matches {
			matches[i].Subject = c.Target
		}
		out = append(out, SubjectMatch{Subject: c.Target, BestDistance: c.Distance, Matches: matches})
	}
	return out
}

func matchExhaustive(probe Embedding, subjects []Subject, opts LabeledOptions) []SubjectMatch {
	var out []SubjectMatch
	for _, s := range subjects {
		matches := MatchGallery(probe, s.Entries, opts.Threshold, opts.TopK)
		if len(matches) == 0 {
			continue
		}
		for i := range matches {
			matches[i].Subject = s.Name
		}
		out = append(out, SubjectMatch{Subject: s.Name, BestDistance: matches[0].Distance, Matches: matches})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].BestDistance < out[j].BestDistance })
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out
}

// rank sorts candidates ascending by distance (stable), truncates to topK and assigns ranks.
func rank(cands []Candidate, topK int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
	if topK > 0 && len(cands) > topK {
		cands = cands[:topK]
	}
	for i := range cands {
		cands[i].Rank = i + 1
	}
	return cands
}
