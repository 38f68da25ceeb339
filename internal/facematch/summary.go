package facematch

// Best returns the lowest-distance candidate, or false for an empty list.
// On equal distances the earlier candidate wins.
func Best(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Distance < best.Distance {
			best = c
		}
	}
	return best, true
}

// SummarizeSubjects reduces a labeled result to one entry per subject holding its best
// image-level match. A subject accepted by its centroid but without any reference image
// within threshold keeps the centroid distance and an empty BestPath.
func SummarizeSubjects(res LabeledResult) []SubjectSummary {
	out := make([]SubjectSummary, 0, len(res.Subjects))
	for _, sm := range res.Subjects {
		summary := SubjectSummary{Subject: sm.Subject, BestDistance: sm.BestDistance}
		if best, ok := Best(sm.Matches); ok {
			summary.BestDistance = best.Distance
			summary.BestPath = best.Target
		}
		out = append(out, summary)
	}
	return out
}
