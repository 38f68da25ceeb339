package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/evidence-faces/internal/database"
)

// EvidenceRepository reads the evidence inventory.
type EvidenceRepository struct {
	pool *Pool
}

// NewEvidenceRepository creates a new evidence repository.
func NewEvidenceRepository(pool *Pool) *EvidenceRepository {
	return &EvidenceRepository{pool: pool}
}

// GetEvidence retrieves a registered file by path, returns nil if not registered.
func (r *EvidenceRepository) GetEvidence(ctx context.Context, path string) (*database.EvidenceFile, error) {
	var f database.EvidenceFile
	err := r.pool.db.QueryRowContext(ctx,
		"SELECT path, sha256, size FROM evidence_files WHERE path = $1", path,
	).Scan(&f.Path, &f.SHA256, &f.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence %s: %w", path, err)
	}
	f.SHA256 = strings.TrimSpace(f.SHA256)
	return &f, nil
}
