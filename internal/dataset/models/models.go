// Package models defines datasets and their versioned content. A dataset is
// a geometry-scoped collection of AtoN records published as one product; its
// content log is the immutable, append-only history of content snapshots and
// deltas that replay and audit build on.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Operation is the kind of change a content log entry records.
type Operation string

const (
	OpCreated   Operation = "CREATED"
	OpUpdated   Operation = "UPDATED"
	OpCancelled Operation = "CANCELLED"
	OpDeleted   Operation = "DELETED"
	OpOther     Operation = "OTHER"

	// OpAuto asks the content engine to infer CREATED or UPDATED: no prior
	// content row means CREATED, anything else UPDATED.
	OpAuto Operation = "AUTO"
)

// Dataset is one published product. Cancellation is terminal: a cancelled
// dataset accepts no further content versions.
type Dataset struct {
	UUID      uuid.UUID
	Title     string
	Geometry  orb.Geometry
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancelled bool
}

// Clone returns a copy safe to hand out of a store.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	c := *d
	if d.Geometry != nil {
		c.Geometry = orb.Clone(d.Geometry)
	}
	return &c
}

// Content is the materialized current content blob for a dataset. There is
// one logical current row per dataset, superseded on each regeneration.
type Content struct {
	DatasetUUID   uuid.UUID
	SequenceNo    int64
	GeneratedAt   time.Time
	Content       string
	ContentLength int64
	Delta         string
	DeltaLength   int64
}

// ContentLog is one immutable entry of the per-dataset audit trail.
// Sequence numbers are contiguous, start at 0 and never regress; entries are
// never mutated or deleted once written.
type ContentLog struct {
	ID            int64
	DatasetUUID   uuid.UUID
	SequenceNo    int64
	Operation     Operation
	GeneratedAt   time.Time
	Content       string
	ContentLength int64
	Delta         string
	DeltaLength   int64
	Geometry      orb.Geometry
}
