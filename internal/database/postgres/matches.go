package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

const matchColumns = `id, run_id, source, source_sha256, bbox, frame_timestamp, subject,
	gallery_path, distance, backend, probe_embedding, created_at`

// FaceMatchRepository provides PostgreSQL-backed match record storage.
type FaceMatchRepository struct {
	pool *Pool
}

// NewFaceMatchRepository creates a new match repository.
func NewFaceMatchRepository(pool *Pool) *FaceMatchRepository {
	return &FaceMatchRepository{pool: pool}
}

// SaveMatches inserts all records in one transaction. Nothing is stored when any insert fails.
func (r *FaceMatchRepository) SaveMatches(ctx context.Context, records []database.FaceMatchRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", database.ErrPersistence, err)
	}
	defer tx.Rollback()

	for i := range records {
		if err := insertMatch(ctx, tx, &records[i]); err != nil {
			return fmt.Errorf("%w: insert record %d of %s: %w", database.ErrPersistence, i, records[i].Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", database.ErrPersistence, err)
	}
	return nil
}

// insertMatch writes one record and fills in its generated ID and timestamp.
func insertMatch(ctx context.Context, tx *sql.Tx, rec *database.FaceMatchRecord) error {
	var bbox any
	if rec.ProbeBBox != nil {
		b := rec.ProbeBBox
		bbox = pq.Array([]int64{int64(b.Top), int64(b.Right), int64(b.Bottom), int64(b.Left)})
	}
	var vec any
	if len(rec.ProbeEmbedding) > 0 {
		vec = pgvector.NewVector(rec.ProbeEmbedding)
	}

	return tx.QueryRowContext(ctx, `
		INSERT INTO face_matches (run_id, source, source_sha256, bbox, frame_timestamp, subject,
		                          gallery_path, distance, backend, probe_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
		RETURNING id, created_at
	`,
		rec.RunID,
		rec.Source,
		rec.SourceSHA256,
		bbox,
		nullFloat(rec.FrameTimestamp),
		nullString(rec.Subject),
		nullString(rec.GalleryPath),
		rec.Distance,
		rec.Backend,
		vec,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// ListMatches returns records selected by the filter, newest first.
func (r *FaceMatchRepository) ListMatches(ctx context.Context, filter database.MatchFilter) ([]database.FaceMatchRecord, error) {
	where, args := filterClause(filter)
	args = append(args, limitArg(filter.Limit))

	query := fmt.Sprintf(`SELECT %s FROM face_matches %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		matchColumns, where, len(args))

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// ListUnidentified returns records without a subject label.
func (r *FaceMatchRepository) ListUnidentified(ctx context.Context, limit int) ([]database.FaceMatchRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM face_matches
		WHERE subject IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, matchColumns)

	rows, err := r.pool.db.QueryContext(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query unidentified matches: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// CountBySubject ranks subjects by the number of distinct probe sources they appear in.
func (r *FaceMatchRepository) CountBySubject(ctx context.Context, limit int) ([]database.SubjectCount, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT subject, COUNT(DISTINCT source), COUNT(*), MIN(distance)
		FROM face_matches
		WHERE subject IS NOT NULL
		GROUP BY subject
		ORDER BY COUNT(DISTINCT source) DESC, MIN(distance) ASC, subject ASC
		LIMIT $1
	`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query subject counts: %w", err)
	}
	defer rows.Close()

	var counts []database.SubjectCount
	for rows.Next() {
		var c database.SubjectCount
		if err := rows.Scan(&c.Subject, &c.Sources, &c.Records, &c.BestDistance); err != nil {
			return nil, fmt.Errorf("scan subject count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject counts: %w", err)
	}
	return counts, nil
}

// FindSimilarProbes returns past probes of the same dimension ordered by Euclidean distance.
// maxDistance <= 0 disables the distance cut-off.
func (r *FaceMatchRepository) FindSimilarProbes(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.SimilarProbe, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s, probe_embedding <-> $1::vector AS distance_to_probe
		FROM face_matches
		WHERE probe_embedding IS NOT NULL
		  AND vector_dims(probe_embedding) = $2
		  AND ($3::float8 <= 0 OR probe_embedding <-> $1::vector < $3::float8)
		ORDER BY distance_to_probe
		LIMIT $4
	`, matchColumns)

	rows, err := r.pool.db.QueryContext(ctx, query,
		pgvector.NewVector(embedding), len(embedding), maxDistance, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query similar probes: %w", err)
	}
	defer rows.Close()

	var out []database.SimilarProbe
	for rows.Next() {
		var dist float64
		rec, err := scanMatchRow(rows, &dist)
		if err != nil {
			return nil, err
		}
		out = append(out, database.SimilarProbe{Record: rec, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar probes: %w", err)
	}
	return out, nil
}

// Count returns the total number of stored records.
func (r *FaceMatchRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM face_matches").Scan(&count); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}

// PurgeMatches deletes the records selected by a non-empty filter.
func (r *FaceMatchRepository) PurgeMatches(ctx context.Context, filter database.MatchFilter) (int64, error) {
	if filter.Empty() {
		return 0, database.ErrEmptyFilter
	}

	where, args := filterClause(filter)
	res, err := r.pool.db.ExecContext(ctx, "DELETE FROM face_matches "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: purge matches: %w", database.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge matches: %w", database.ErrPersistence, err)
	}
	return n, nil
}

// filterClause builds a WHERE clause with positional arguments starting at $1.
func filterClause(f database.MatchFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Subject != "" {
		add("subject = $%d", f.Subject)
	}
	if f.MaxDistance > 0 {
		add("distance <= $%d", f.MaxDistance)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// limitArg maps a non-positive limit to NULL, which PostgreSQL treats as LIMIT ALL.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// scanMatchRow scans the match columns, with optional extra destinations appended after them.
func scanMatchRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.FaceMatchRecord, error) {
	var rec database.FaceMatchRecord
	var bbox pq.Int64Array
	var ts sql.NullFloat64
	var subject, galleryPath sql.NullString
	var vec *pgvector.Vector

	dest := make([]any, 0, 12+len(extraDest))
	dest = append(dest,
		&rec.ID,
		&rec.RunID,
		&rec.Source,
		&rec.SourceSHA256,
		&bbox,
		&ts,
		&subject,
		&galleryPath,
		&rec.Distance,
		&rec.Backend,
		&vec,
		&rec.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return rec, fmt.Errorf("scan match: %w", err)
	}

	rec.SourceSHA256 = strings.TrimSpace(rec.SourceSHA256)
	if len(bbox) == 4 {
		rec.ProbeBBox = &facematch.BoundingBox{
			Top: int(bbox[0]), Right: int(bbox[1]), Bottom: int(bbox[2]), Left: int(bbox[3]),
		}
	}
	if ts.Valid {
		rec.FrameTimestamp = &ts.Float64
	}
	if subject.Valid {
		rec.Subject = &subject.String
	}
	if galleryPath.Valid {
		rec.GalleryPath = &galleryPath.String
	}
	if vec != nil {
		rec.ProbeEmbedding = vec.Slice()
	}
	return rec, nil
}

func scanMatches(rows *sql.Rows) ([]database.FaceMatchRecord, error) {
	var records []database.FaceMatchRecord
	for rows.Next() {
		rec, err := scanMatchRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return records, nil
}
