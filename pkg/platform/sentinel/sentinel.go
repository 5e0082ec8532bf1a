package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into the
// pipeline error taxonomy.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: concurrent writers collided on a versioned resource
// - ErrCancelled: write attempted against a cancelled dataset
// - ErrMalformed: inbound payload could not be decoded or misses required fields
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCancelled   = errors.New("cancelled")
	ErrMalformed   = errors.New("malformed")
	ErrUnavailable = errors.New("unavailable")
)
