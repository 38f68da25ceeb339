package facematch

import "sort"

// ComputeSubjectEmbeddings builds one centroid per subject: every member embedding is
// L2-normalized, the normalized vectors are averaged and the mean is normalized again,
// so reference images with larger raw magnitude do not dominate the subject.
// Subjects without usable embeddings are omitted. The result is sorted by subject name
// and does not depend on the order of entries inside a subject.
func ComputeSubjectEmbeddings(subjects []Subject) []SubjectEmbedding {
	out := make([]SubjectEmbedding, 0, len(subjects))
	for _, s := range subjects {
		centroid, n := centroid(s.Entries)
		if n == 0 {
			continue
		}
		out = append(out, SubjectEmbedding{Subject: s.Name, Embedding: centroid, Members: n})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// SubjectEmbeddingMap returns the centroids keyed by subject name.
func SubjectEmbeddingMap(subjects []Subject) map[string]Embedding {
	centroids := ComputeSubjectEmbeddings(subjects)
	out := make(map[string]Embedding, len(centroids))
	for _, c := range centroids {
		out[c.Subject] = c.Embedding
	}
	return out
}

func centroid(entries []Entry) (Embedding, int) {
	var sum []float64
	n := 0
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(e.Embedding))
		}
		// Entries from a different backend cannot be averaged with the rest.
		if len(e.Embedding) != len(sum) {
			continue
		}
		unit := Normalize(e.Embedding)
		for i, v := range unit {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil, 0
	}

	mean := make(Embedding, len(sum))
	for i, v := range sum {
		mean[i] = float32(v / float64(n))
	}
	return Normalize(mean), n
}
