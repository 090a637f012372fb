package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Report stores, the audit cache and
// event sinks return these (optionally wrapped) so services can translate them
// into coded domain errors.
//
//   - ErrNotFound: no report or event under the requested key
//   - ErrConflict: a report with the same id was already persisted
//   - ErrCacheMiss: the audit cache holds no entry for the fingerprint
//   - ErrUnavailable: backing store or broker temporarily unavailable
//   - ErrInvalidInput: a nil or malformed value was handed to a store
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrCacheMiss    = errors.New("cache miss")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidInput = errors.New("invalid input")
)
