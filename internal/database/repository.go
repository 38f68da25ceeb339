package database

import (
	"context"
)

// FaceMatchReader provides read-only access to persisted match records
type FaceMatchReader interface {
	// ListMatches returns records selected by the filter, newest first
	ListMatches(ctx context.Context, filter MatchFilter) ([]FaceMatchRecord, error)
	// CountBySubject ranks subjects by the number of distinct sources they were matched in
	CountBySubject(ctx context.Context, limit int) ([]SubjectCount, error)
	// ListUnidentified returns records without a subject label, newest first
	ListUnidentified(ctx context.Context, limit int) ([]FaceMatchRecord, error)
	// FindSimilarProbes finds past probes whose embedding lies within maxDistance (Euclidean)
	FindSimilarProbes(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]SimilarProbe, error)
	// Count returns the total number of stored records
	Count(ctx context.Context) (int, error)
}

// FaceMatchWriter provides write access to match records
type FaceMatchWriter interface {
	FaceMatchReader

	// SaveMatches inserts all records of one probe in a single transaction
	SaveMatches(ctx context.Context, records []FaceMatchRecord) error

	// PurgeMatches deletes records selected by the filter and returns how many were removed.
	// This is the only delete path; an empty filter is rejected.
	PurgeMatches(ctx context.Context, filter MatchFilter) (int64, error)
}

// EvidenceReader provides read-only access to the evidence inventory
type EvidenceReader interface {
	// GetEvidence retrieves a registered file by path, returns nil if not registered
	GetEvidence(ctx context.Context, path string) (*EvidenceFile, error)
}
