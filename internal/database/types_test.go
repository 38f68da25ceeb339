package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaceMatchRecord_Unidentified(t *testing.T) {
	subject := "alice"
	path := "gallery/alice/1.jpg"

	tests := []struct {
		name   string
		record FaceMatchRecord
		want   bool
	}{
		{"no subject no path", FaceMatchRecord{}, true},
		{"subject only", FaceMatchRecord{Subject: &subject}, false},
		{"path only", FaceMatchRecord{GalleryPath: &path}, true},
		{"both", FaceMatchRecord{Subject: &subject, GalleryPath: &path}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.record.Unidentified())
		})
	}
}

func TestFaceMatchRecord_SubjectName(t *testing.T) {
	subject := "bob"
	assert.Equal(t, "", FaceMatchRecord{}.SubjectName())
	assert.Equal(t, "bob", FaceMatchRecord{Subject: &subject}.SubjectName())
}

func TestMatchFilter_Empty(t *testing.T) {
	assert.True(t, MatchFilter{}.Empty())
	assert.True(t, MatchFilter{Limit: 10}.Empty(), "limit alone does not select records")
	assert.False(t, MatchFilter{RunID: "r"}.Empty())
	assert.False(t, MatchFilter{Source: "a.jpg"}.Empty())
	assert.False(t, MatchFilter{Subject: "alice"}.Empty())
	assert.False(t, MatchFilter{MaxDistance: 0.4}.Empty())
}

func TestProvider_NotInitialized(t *testing.T) {
	ResetBackend()
	ctx := context.Background()

	_, err := GetMatchReader(ctx)
	require.Error(t, err)
	_, err = GetMatchWriter(ctx)
	require.Error(t, err)
	_, err = GetEvidenceReader(ctx)
	require.Error(t, err)
	assert.False(t, IsInitialized())
}
