package engine

import (
	"github.com/kozaktomas/evidence-faces/internal/facematch"
)

// Result is the JSON-serializable outcome of one probe.
type Result interface {
	SourcePath() string
	kind() string
}

// Match is one gallery image within threshold of a probe face.
type Match struct {
	GalleryPath string  `json:"gallery_path"`
	Distance    float64 `json:"distance"`
}

// FaceResult holds the matches of one probe face. A nil FaceBBox means the whole
// image was used as the probe because no face could be localized.
type FaceResult struct {
	FaceBBox *facematch.BoundingBox `json:"face_bbox"`
	Backend  string                 `json:"backend"`
	Matches  []Match                `json:"matches"`

	embedding facematch.Embedding
}

// ImageResult is the outcome of an unlabeled image search.
type ImageResult struct {
	Source   string       `json:"source"`
	NumFaces int          `json:"num_faces"`
	Results  []FaceResult `json:"results"`
}

func (r *ImageResult) SourcePath() string { return r.Source }
func (r *ImageResult) kind() string       { return "image" }

// SubjectImageMatch is one reference image of a subject within threshold.
type SubjectImageMatch struct {
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
}

// SubjectResult is the evidence collected for one subject.
type SubjectResult struct {
	Subject      string              `json:"subject"`
	BestDistance float64             `json:"best_distance"`
	Matches      []SubjectImageMatch `json:"matches"`
}

// LabeledResult is the outcome of a labeled gallery search.
type LabeledResult struct {
	Source         string                `json:"source"`
	Mode           facematch.LabeledMode `json:"mode"`
	Backend        string                `json:"backend"`
	NumSubjects    int                   `json:"num_subjects"`
	SubjectMatches []SubjectResult       `json:"subject_matches"`

	embedding facematch.Embedding
	matched   facematch.LabeledResult
}

func (r *LabeledResult) SourcePath() string { return r.Source }
func (r *LabeledResult) kind() string       { return "labeled" }

// Summary returns the best reference image per subject.
func (r *LabeledResult) Summary() []facematch.SubjectSummary {
	return facematch.SummarizeSubjects(r.matched)
}

// DetectionResult holds the matches of one face found in a video frame.
type DetectionResult struct {
	BBox    facematch.BoundingBox `json:"bbox"`
	Backend string                `json:"backend"`
	Matches []Match               `json:"matches"`

	embedding facematch.Embedding
}

// FrameResult holds the detections of one sampled frame.
type FrameResult struct {
	Timestamp  float64           `json:"timestamp"`
	Detections []DetectionResult `json:"detections"`
}

// VideoResult is the outcome of a video search. Only frames with at least one
// detected face are listed.
type VideoResult struct {
	Source            string        `json:"source"`
	FramesWithMatches int           `json:"frames_with_matches"`
	Results           []FrameResult `json:"results"`
}

func (r *VideoResult) SourcePath() string { return r.Source }
func (r *VideoResult) kind() string       { return "video" }

func toMatches(cands []facematch.Candidate) []Match {
	out := make([]Match, 0, len(cands))
	for _, c := range cands {
		out = append(out, Match{GalleryPath: c.Target, Distance: c.Distance})
	}
	return out
}
