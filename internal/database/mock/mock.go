// Package mock provides in-memory implementations of the database interfaces
// for tests and dry runs.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// MatchStore is an in-memory database.FaceMatchWriter.
type MatchStore struct {
	mu      sync.RWMutex
	records []database.FaceMatchRecord
	nextID  int64

	// Error injection
	SaveError  error
	PurgeError error
	ListError  error

	// SaveCalls counts SaveMatches invocations, including failed ones.
	SaveCalls int
}

// NewMatchStore creates an empty store.
func NewMatchStore() *MatchStore {
	return &MatchStore{nextID: 1}
}

// Records returns a copy of every stored record in insertion order.
func (m *MatchStore) Records() []database.FaceMatchRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.FaceMatchRecord, len(m.records))
	copy(out, m.records)
	return out
}

// SaveMatches appends records atomically.
func (m *MatchStore) SaveMatches(ctx context.Context, records []database.FaceMatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveError != nil {
		return fmt.Errorf("%w: %w", database.ErrPersistence, m.SaveError)
	}

	now := time.Now()
	for i := range records {
		records[i].ID = m.nextID
		records[i].CreatedAt = now
		m.nextID++
		m.records = append(m.records, records[i])
	}
	return nil
}

// PurgeMatches removes records selected by a non-empty filter.
func (m *MatchStore) PurgeMatches(ctx context.Context, filter database.MatchFilter) (int64, error) {
	if filter.Empty() {
		return 0, database.ErrEmptyFilter
	}
	if m.PurgeError != nil {
		return 0, fmt.Errorf("%w: %w", database.ErrPersistence, m.PurgeError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var removed int64
	for _, r := range m.records {
		if matchesFilter(r, filter) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

// ListMatches returns records selected by the filter, newest first.
func (m *MatchStore) ListMatches(ctx context.Context, filter database.MatchFilter) ([]database.FaceMatchRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.newestFirst(func(r database.FaceMatchRecord) bool { return matchesFilter(r, filter) }, filter.Limit), nil
}

// ListUnidentified returns records without a subject label, newest first.
func (m *MatchStore) ListUnidentified(ctx context.Context, limit int) ([]database.FaceMatchRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.newestFirst(database.FaceMatchRecord.Unidentified, limit), nil
}

// CountBySubject ranks subjects by distinct source count.
func (m *MatchStore) CountBySubject(ctx context.Context, limit int) ([]database.SubjectCount, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySubject := make(map[string]*database.SubjectCount)
	sources := make(map[string]map[string]struct{})
	for _, r := range m.records {
		if r.Subject == nil {
			continue
		}
		name := *r.Subject
		c, ok := bySubject[name]
		if !ok {
			c = &database.SubjectCount{Subject: name, BestDistance: r.Distance}
			bySubject[name] = c
			sources[name] = make(map[string]struct{})
		}
		c.Records++
		if r.Distance < c.BestDistance {
			c.BestDistance = r.Distance
		}
		sources[name][r.Source] = struct{}{}
	}

	out := make([]database.SubjectCount, 0, len(bySubject))
	for name, c := range bySubject {
		c.Sources = len(sources[name])
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sources != out[j].Sources {
			return out[i].Sources > out[j].Sources
		}
		if out[i].BestDistance != out[j].BestDistance {
			return out[i].BestDistance < out[j].BestDistance
		}
		return out[i].Subject < out[j].Subject
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindSimilarProbes scans every stored probe embedding of the same dimension.
func (m *MatchStore) FindSimilarProbes(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.SimilarProbe, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.SimilarProbe
	for _, r := range m.records {
		if len(r.ProbeEmbedding) != len(embedding) || len(embedding) == 0 {
			continue
		}
		d := facematch.Distance(embedding, r.ProbeEmbedding)
		if maxDistance > 0 && d >= maxDistance {
			continue
		}
		out = append(out, database.SimilarProbe{Record: r, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *MatchStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MatchStore) newestFirst(keep func(database.FaceMatchRecord) bool, limit int) []database.FaceMatchRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.FaceMatchRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if !keep(m.records[i]) {
			continue
		}
		out = append(out, m.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func matchesFilter(r database.FaceMatchRecord, f database.MatchFilter) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Subject != "" && r.SubjectName() != f.Subject {
		return false
	}
	if f.MaxDistance > 0 && r.Distance > f.MaxDistance {
		return false
	}
	return true
}

// EvidenceRegistry is an in-memory database.EvidenceReader.
type EvidenceRegistry struct {
	mu    sync.RWMutex
	files map[string]database.EvidenceFile

	GetError error
}

// NewEvidenceRegistry creates a registry holding the given files.
func NewEvidenceRegistry(files ...database.EvidenceFile) *EvidenceRegistry {
	r := &EvidenceRegistry{files: make(map[string]database.EvidenceFile)}
	for _, f := range files {
		r.files[f.Path] = f
	}
	return r
}

// Add registers a file.
func (r *EvidenceRegistry) Add(f database.EvidenceFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.Path] = f
}

// GetEvidence returns the registered file or nil.
func (r *EvidenceRegistry) GetEvidence(ctx context.Context, path string) (*database.EvidenceFile, error) {
	if r.GetError != nil {
		return nil, r.GetError
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[path]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

var (
	_ database.FaceMatchWriter = (*MatchStore)(nil)
	_ database.EvidenceReader  = (*EvidenceRegistry)(nil)
)
