package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Match     MatchConfig     `yaml:"match" envconfig:"MATCH"`
	Video     VideoConfig     `yaml:"video" envconfig:"VIDEO"`
	Embedding EmbeddingConfig `yaml:"embedding" envconfig:"EMBEDDING"`
	Detection DetectionConfig `yaml:"detection" envconfig:"DETECTION"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	Web       WebConfig       `yaml:"web" envconfig:"WEB"`
}

// MatchConfig holds the values the matcher and the persistence sink consume.
type MatchConfig struct {
	Threshold            float64 `yaml:"threshold" envconfig:"THRESHOLD"`   // maximum accepted distance, lower is stricter
	TopK                 int     `yaml:"top_k" envconfig:"TOP_K"`           // candidates kept per face or subject
	VideoTopK            int     `yaml:"video_top_k" envconfig:"VIDEO_TOP_K"` // candidates kept per video detection
	Aggregate            bool    `yaml:"aggregate" envconfig:"AGGREGATE"`
	UseSubjectEmbeddings bool    `yaml:"use_subject_embeddings" envconfig:"USE_SUBJECT_EMBEDDINGS"`
	UseIndex             bool    `yaml:"use_index" envconfig:"USE_INDEX"`
	UnidentifiedDir      string  `yaml:"unidentified_dir" envconfig:"UNIDENTIFIED_DIR"`
}

type VideoConfig struct {
	Interval    float64 `yaml:"interval" envconfig:"INTERVAL"` // seconds between sampled frames
	DefaultFPS  float64 `yaml:"default_fps" envconfig:"DEFAULT_FPS"`
	Source      string  `yaml:"source" envconfig:"SOURCE"` // ffmpeg or gocv
	FFmpegPath  string  `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	FFprobePath string  `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH"`
}

type EmbeddingConfig struct {
	Backends       []string      `yaml:"backends" envconfig:"BACKENDS"` // priority order, first usable wins
	URL            string        `yaml:"url" envconfig:"URL"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	DlibModelsDir  string        `yaml:"dlib_models_dir" envconfig:"DLIB_MODELS_DIR"`
	ArcFaceModel   string        `yaml:"arcface_model" envconfig:"ARCFACE_MODEL"`
	OnnxRuntimeLib string        `yaml:"onnxruntime_lib" envconfig:"ONNXRUNTIME_LIB"`
	AlignSize      int           `yaml:"align_size" envconfig:"ALIGN_SIZE"`
}

type DetectionConfig struct {
	Backends    []string `yaml:"backends" envconfig:"BACKENDS"`
	HaarCascade string   `yaml:"haar_cascade" envconfig:"HAAR_CASCADE"`
}

type DatabaseConfig struct {
	URL               string `yaml:"url" envconfig:"URL"` // PostgreSQL connection URL
	MaxOpenConns      int    `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns      int    `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	RequireProvenance bool   `yaml:"require_provenance" envconfig:"REQUIRE_PROVENANCE"` // probe must be registered evidence before persisting
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // console or json
}

type WebConfig struct {
	Host           string   `yaml:"host" envconfig:"HOST"`
	Port           int      `yaml:"port" envconfig:"PORT"`
	APIToken       string   `yaml:"api_token" envconfig:"API_TOKEN"`             // empty disables bearer auth
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"` // CORS whitelist, localhost is always allowed
}

// Defaults returns the configuration described by the embedded defaults.yaml.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load reads the embedded defaults and overlays environment variables on top.
// The result is not validated: callers apply their command-line overrides first
// and call Validate once on the final configuration.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the matcher cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Match.Threshold < 0 {
		errs = append(errs, fmt.Errorf("match threshold must not be negative, got %v", c.Match.Threshold))
	}
	if c.Match.TopK < 1 {
		errs = append(errs, fmt.Errorf("match top-k must be positive, got %d", c.Match.TopK))
	}
	if c.Match.VideoTopK < 1 {
		errs = append(errs, fmt.Errorf("video top-k must be positive, got %d", c.Match.VideoTopK))
	}
	if c.Video.Interval <= 0 {
		errs = append(errs, fmt.Errorf("video interval must be positive, got %v", c.Video.Interval))
	}
	if c.Video.DefaultFPS <= 0 {
		errs = append(errs, fmt.Errorf("default fps must be positive, got %v", c.Video.DefaultFPS))
	}
	return errors.Join(errs...)
}

// CheckExposure refuses to serve the API without a bearer token on anything but a
// loopback address.
func (w WebConfig) CheckExposure() error {
	if w.APIToken != "" || isLoopback(w.Host) {
		return nil
	}
	return fmt.Errorf("refusing to listen on %q without WEB_API_TOKEN: set a token or bind to 127.0.0.1", w.Host)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
