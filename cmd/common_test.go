package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/embedding"
)

func newMatchCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addMatchFlags(cmd)
	addPersistFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MATCH_TOP_K", "0")
	t.Setenv("MATCH_VIDEO_TOP_K", "0")

	cfg, _, err := loadConfig(newMatchCommand(t, "--top-k", "3", "--video-top-k", "7"))
	require.NoError(t, err, "flags fix the invalid environment before validation")
	assert.Equal(t, 3, cfg.Match.TopK)
	assert.Equal(t, 7, cfg.Match.VideoTopK)
}

func TestLoadConfig_InvalidAfterFlags(t *testing.T) {
	_, _, err := loadConfig(newMatchCommand(t, "--video-top-k", "0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video top-k")
}

func TestBuildPipeline_SearchOnly(t *testing.T) {
	cfg := config.Defaults()
	require.True(t, cfg.Database.RequireProvenance)
	cfg.Embedding.Backends = []string{"dct"}
	cfg.Detection.Backends = nil

	p, err := buildPipeline(context.Background(), cfg, zerolog.Nop(), false, nil)
	require.NoError(t, err, "a pipeline that never persists needs no evidence registry")
	defer p.Close()

	assert.NotNil(t, p.engine)
	assert.Nil(t, p.pool)
	assert.Equal(t, []string{"dct"}, p.backend)
}

func TestBuildPipeline_NoEmbedder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Backends = []string{"remote"}
	cfg.Embedding.URL = ""

	_, err := buildPipeline(context.Background(), cfg, zerolog.Nop(), false, nil)
	require.ErrorIs(t, err, embedding.ErrBackendUnavailable)
}

type countingCloser struct {
	calls int
	err   error
}

func (c *countingCloser) Close() error {
	c.calls++
	return c.err
}

func TestCloseQuietly(t *testing.T) {
	c := &countingCloser{err: errors.New("already closed")}
	closeFn := closeQuietly(c)
	assert.Zero(t, c.calls)

	closeFn()
	assert.Equal(t, 1, c.calls)
}

func TestSplitVideos(t *testing.T) {
	images, videos := splitVideos([]string{"a.jpg", "cam.mp4", "b.png", "door.avi"})
	assert.Equal(t, []string{"a.jpg", "b.png"}, images)
	assert.Equal(t, []string{"cam.mp4", "door.avi"}, videos)
}
