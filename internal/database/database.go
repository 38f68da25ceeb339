// Package database defines the persistence sink for match records and the
// read-only view of the evidence inventory.
package database

import "errors"

var (
	// ErrPersistence wraps every failed write. Callers treat it as fatal.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnregisteredEvidence is returned when a probe is not in the evidence inventory.
	ErrUnregisteredEvidence = errors.New("probe is not registered evidence")

	// ErrEmptyFilter rejects a purge that would delete every record.
	ErrEmptyFilter = errors.New("purge requires at least one filter")
)
