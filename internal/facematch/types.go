// Package facematch holds the matching core: embeddings, distances, gallery entries,
// subject centroids and ranked candidate selection. It performs no I/O.
package facematch

// Embedding is a fixed-length face or image descriptor. Its dimension depends on
// the backend that produced it (128 for dlib, 512 for ArcFace, 64 for the DCT fallback).
// Embeddings are never modified in place; derived vectors are always new slices.
type Embedding []float32

// Dim returns the vector length.
func (e Embedding) Dim() int {
	return len(e)
}

// Entry is one reference image of a gallery.
type Entry struct {
	Path      string
	Embedding Embedding
}

// Subject is a named individual of a labeled gallery with its reference images.
type Subject struct {
	Name    string
	Entries []Entry
}

// SubjectEmbedding is the normalized centroid computed for a subject.
type SubjectEmbedding struct {
	Subject   string
	Embedding Embedding
	Members   int // number of entries averaged into the centroid
}

// Candidate is one ranked match. Candidates are only ever produced with a
// finite distance that passed the caller's threshold.
type Candidate struct {
	Target   string  // gallery image path, or the subject name for centroid candidates
	Subject  string  // owning subject for labeled galleries, empty otherwise
	Distance float64 // Euclidean distance, lower is closer
	Rank     int     // 1-based position after sorting
}

// SubjectMatch groups the image-level evidence found for one subject.
type SubjectMatch struct {
	Subject      string
	BestDistance float64
	Matches      []Candidate
}

// LabeledMode tells which strategy produced a labeled result.
type LabeledMode string

const (
	ModeCentroid   LabeledMode = "centroid"   // two-phase search over subject centroids
	ModeExhaustive LabeledMode = "exhaustive" // per-image comparison across all subjects
)

// LabeledResult is the outcome of a labeled gallery search.
type LabeledResult struct {
	Mode     LabeledMode
	Subjects []SubjectMatch
}

// SubjectSummary is the single best piece of evidence for one subject.
type SubjectSummary struct {
	Subject      string
	BestDistance float64
	BestPath     string // empty when no reference image passed the threshold
}
