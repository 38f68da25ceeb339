package video

import (
	"fmt"
	"maps"
	"slices"

	"github.com/kozaktomas/evidence-faces/internal/config"
)

// SourceFactory builds a frame source from configuration.
type SourceFactory func(cfg config.VideoConfig) (Source, error)

var sources = map[string]SourceFactory{
	"ffmpeg": func(cfg config.VideoConfig) (Source, error) {
		return NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath), nil
	},
}

// RegisterSource makes a frame source available under name.
func RegisterSource(name string, f SourceFactory) {
	sources[name] = f
}

// Sources returns the names of the compiled-in sources.
func Sources() []string {
	return slices.Sorted(maps.Keys(sources))
}

// NewSource builds the source selected by cfg.Source.
func NewSource(cfg config.VideoConfig) (Source, error) {
	f, ok := sources[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("unknown video source %q (available: %v)", cfg.Source, Sources())
	}
	return f(cfg)
}
