// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Processing constants
const (
	// WorkerPoolSize is the default number of probes scanned in parallel
	WorkerPoolSize = 4

	// FaceCropMargin is the share of a face box added on every side when cropping
	FaceCropMargin = 0.2
)

// Listing constants
const (
	// DefaultListLimit is the default number of records returned by list endpoints
	DefaultListLimit = 100

	// MaxListLimit caps any single listing
	MaxListLimit = 1000

	// DefaultTopSubjects is the default number of subjects in a ranking
	DefaultTopSubjects = 10
)

// DefaultTuneThresholds are the candidate thresholds reported by the tuning command
// when none are given. They span the useful range of dlib-style 128-d embeddings.
var DefaultTuneThresholds = []float64{0.4, 0.45, 0.5, 0.55, 0.6, 0.65, 0.7}
