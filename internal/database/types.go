package database

import (
	"time"

	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// FaceMatchRecord is one persisted match between a probe face and the gallery.
// Records are insert-only; nothing ever updates a stored record.
type FaceMatchRecord struct {
	ID             int64                  `json:"id"`
	RunID          string                 `json:"run_id"`
	Source         string                 `json:"source"`                    // probe image or video path
	SourceSHA256   string                 `json:"source_sha256,omitempty"`   // evidence registry hash, empty without provenance
	ProbeBBox      *facematch.BoundingBox `json:"probe_bbox"`                // nil for a whole-image probe
	FrameTimestamp *float64               `json:"frame_timestamp,omitempty"` // seconds into the video, nil for still images
	Subject        *string                `json:"subject"`                   // nil for unlabeled galleries
	GalleryPath    *string                `json:"gallery_path"`              // nil for centroid-only subject evidence
	Distance       float64                `json:"distance"`
	Backend        string                 `json:"backend"`
	ProbeEmbedding []float32              `json:"-"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SubjectName returns the subject or an empty string.
func (r FaceMatchRecord) SubjectName() string {
	if r.Subject == nil {
		return ""
	}
	return *r.Subject
}

// Unidentified reports whether the record carries no subject label. Matches against an
// unlabeled gallery are unidentified even when they name a gallery image.
func (r FaceMatchRecord) Unidentified() bool {
	return r.Subject == nil
}

// EvidenceFile is an entry of the evidence inventory maintained outside this module.
type EvidenceFile struct {
	Path   string
	SHA256 string
	Size   int64
}

// MatchFilter selects records for listing and purging. Zero fields match everything.
type MatchFilter struct {
	RunID       string
	Source      string
	Subject     string
	MaxDistance float64 // <= 0 disables the distance filter
	Limit       int     // <= 0 returns every record
}

// Empty reports whether the filter selects every record.
func (f MatchFilter) Empty() bool {
	return f.RunID == "" && f.Source == "" && f.Subject == "" && f.MaxDistance <= 0
}

// SubjectCount is the number of distinct probe sources matched to one subject.
type SubjectCount struct {
	Subject      string  `json:"subject"`
	Sources      int     `json:"sources"`
	Records      int     `json:"records"`
	BestDistance float64 `json:"best_distance"`
}

// SimilarProbe is a past probe found close to a new probe embedding.
type SimilarProbe struct {
	Record   FaceMatchRecord `json:"record"`
	Distance float64         `json:"distance"`
}
