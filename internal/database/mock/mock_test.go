package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/database"
)

func subject(s string) *string { return &s }

func TestMatchStore(t *testing.T) {
	ctx := context.Background()
	store := NewMatchStore()

	require.NoError(t, store.SaveMatches(ctx, []database.FaceMatchRecord{
		{RunID: "r1", Source: "a.jpg", Subject: subject("alice"), Distance: 0.3, ProbeEmbedding: []float32{1, 0}},
		{RunID: "r1", Source: "b.jpg", Subject: subject("alice"), Distance: 0.2, ProbeEmbedding: []float32{0, 1}},
		{RunID: "r2", Source: "b.jpg", Subject: subject("bob"), Distance: 0.1},
		{RunID: "r2", Source: "c.jpg", Distance: 0},
	}))

	t.Run("list newest first", func(t *testing.T) {
		got, err := store.ListMatches(ctx, database.MatchFilter{Source: "b.jpg"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "bob", got[0].SubjectName())
		assert.Greater(t, got[0].ID, got[1].ID)
	})

	t.Run("unidentified", func(t *testing.T) {
		got, err := store.ListUnidentified(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c.jpg", got[0].Source)
	})

	t.Run("count by subject", func(t *testing.T) {
		got, err := store.CountBySubject(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, database.SubjectCount{Subject: "alice", Sources: 2, Records: 2, BestDistance: 0.2}, got[0])
	})

	t.Run("similar probes", func(t *testing.T) {
		got, err := store.FindSimilarProbes(ctx, []float32{0.9, 0}, 0, 0.5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a.jpg", got[0].Record.Source)
	})

	t.Run("purge", func(t *testing.T) {
		_, err := store.PurgeMatches(ctx, database.MatchFilter{})
		require.ErrorIs(t, err, database.ErrEmptyFilter)

		n, err := store.PurgeMatches(ctx, database.MatchFilter{RunID: "r1"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		count, _ := store.Count(ctx)
		assert.Equal(t, 2, count)
	})
}

func TestMatchStore_SaveError(t *testing.T) {
	store := NewMatchStore()
	store.SaveError = errors.New("disk full")

	err := store.SaveMatches(context.Background(), []database.FaceMatchRecord{{Source: "a.jpg"}})
	require.ErrorIs(t, err, database.ErrPersistence)
	assert.Empty(t, store.Records())
	assert.Equal(t, 1, store.SaveCalls)
}

func TestEvidenceRegistry(t *testing.T) {
	reg := NewEvidenceRegistry(database.EvidenceFile{Path: "a.jpg", SHA256: "abc"})

	got, err := reg.GetEvidence(context.Background(), "a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.SHA256)

	missing, err := reg.GetEvidence(context.Background(), "b.jpg")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
