package database

import (
	"context"
	"fmt"
)

var (
	postgresMatchReader    func() FaceMatchReader
	postgresMatchWriter    func() FaceMatchWriter
	postgresEvidenceReader func() EvidenceReader
	postgresInitialized    bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	matchReader func() FaceMatchReader,
	matchWriter func() FaceMatchWriter,
	evidenceReader func() EvidenceReader,
) {
	postgresMatchReader = matchReader
	postgresMatchWriter = matchWriter
	postgresEvidenceReader = evidenceReader
	postgresInitialized = true
}

// ResetBackend forgets registered constructors.
func ResetBackend() {
	postgresMatchReader = nil
	postgresMatchWriter = nil
	postgresEvidenceReader = nil
	postgresInitialized = false
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetMatchReader returns a FaceMatchReader from the PostgreSQL backend
func GetMatchReader(ctx context.Context) (FaceMatchReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresMatchReader == nil {
		return nil, fmt.Errorf("PostgreSQL match reader not registered")
	}
	return postgresMatchReader(), nil
}

// GetMatchWriter returns a FaceMatchWriter from the PostgreSQL backend
func GetMatchWriter(ctx context.Context) (FaceMatchWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresMatchWriter == nil {
		return nil, fmt.Errorf("PostgreSQL match writer not registered")
	}
	return postgresMatchWriter(), nil
}

// GetEvidenceReader returns an EvidenceReader from the PostgreSQL backend
func GetEvidenceReader(ctx context.Context) (EvidenceReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresEvidenceReader == nil {
		return nil, fmt.Errorf("PostgreSQL evidence reader not registered")
	}
	return postgresEvidenceReader(), nil
}
