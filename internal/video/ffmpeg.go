package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kozaktomas/evidence-faces/internal/embedding"
)

// FFmpeg reads frames by running the ffprobe and ffmpeg command line tools.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg creates a source using the given binaries; empty paths use $PATH lookup.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

type probeOutput struct {
	Streams []struct {
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Open probes the first video stream for frame rate and frame count.
func (f *FFmpeg) Open(ctx context.Context, path string) (Stream, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(f, path, out)
}

func parseProbe(f *FFmpeg, path string, out []byte) (*ffmpegStream, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("%s has no video stream", path)
	}

	st := probe.Streams[0]
	fps := parseRate(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(st.RFrameRate)
	}

	frames, _ := strconv.Atoi(st.NbFrames)
	if frames <= 0 && fps > 0 {
		duration, err := strconv.ParseFloat(st.Duration, 64)
		if err != nil {
			duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
		}
		frames = int(math.Round(duration * fps))
	}

	return &ffmpegStream{src: f, path: path, fps: fps, frames: frames}, nil
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type ffmpegStream struct {
	src    *FFmpeg
	path   string
	fps    float64
	frames int
}

func (s *ffmpegStream) FPS() float64    { return s.fps }
func (s *ffmpegStream) FrameCount() int { return s.frames }
func (s *ffmpegStream) Close() error    { return nil }

// Frame extracts one frame as PNG. The seek is by time, computed from the index.
func (s *ffmpegStream) Frame(ctx context.Context, index int) (image.Image, error) {
	fps := s.fps
	if fps <= 0 {
		fps = DefaultFPS
	}
	ts := float64(index) / fps

	cmd := exec.CommandContext(ctx, s.src.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame %d: %w: %s", index, err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("frame %d: no frame data: %w", index, embedding.ErrDecode)
	}
	return embedding.DecodeImage(out)
}
