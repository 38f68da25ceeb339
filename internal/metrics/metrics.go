// Package metrics exposes Prometheus counters for the matching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Probe Metrics
// =============================================================================

var (
	// ProbesTotal counts processed probes by kind ("image", "labeled", "video").
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_faces_probes_total",
			Help: "Total number of probes processed by kind",
		},
		[]string{"kind"},
	)

	// WholeImageFallbacksTotal counts probes matched without face localization.
	WholeImageFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_whole_image_fallbacks_total",
			Help: "Total number of probes that fell back to a whole-image embedding",
		},
	)

	// DecodeFailuresTotal counts images or frames that could not be decoded.
	DecodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_decode_failures_total",
			Help: "Total number of images or video frames that failed to decode",
		},
	)

	// BackendFailuresTotal counts recoverable failures per backend and operation.
	BackendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_faces_backend_failures_total",
			Help: "Total number of recoverable detector or embedder failures",
		},
		[]string{"backend", "op"}, // op: "detect" | "embed"
	)

	// CandidatesTotal counts match candidates that passed the threshold.
	CandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_candidates_total",
			Help: "Total number of match candidates returned within threshold",
		},
	)
)

// =============================================================================
// Gallery Cache Metrics
// =============================================================================

var (
	// CacheEventsTotal counts cache lookups by gallery kind and outcome.
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_faces_gallery_cache_events_total",
			Help: "Gallery cache lookups by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "hit" | "miss" | "corrupt" | "write_error"
	)

	// GalleryImagesEmbeddedTotal counts reference images embedded during cache builds.
	GalleryImagesEmbeddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_gallery_images_embedded_total",
			Help: "Total number of gallery images embedded while building caches",
		},
	)
)

// =============================================================================
// Persistence Metrics
// =============================================================================

var (
	// RecordsPersistedTotal counts FaceMatchRecords written by mode.
	RecordsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_faces_records_persisted_total",
			Help: "Total number of face match records written",
		},
		[]string{"mode"},
	)

	// PersistenceFailuresTotal counts failed persistence attempts.
	PersistenceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_persistence_failures_total",
			Help: "Total number of failed attempts to persist match records",
		},
	)

	// UnidentifiedCopiesTotal counts probe files copied to the unidentified directory.
	UnidentifiedCopiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_faces_unidentified_copies_total",
			Help: "Total number of probe files copied for manual labeling",
		},
	)
)
