// Package models defines subscription requests: standing interests
// registered by external clients, matched against record changes by
// geometry and time-window intersection.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Event is the lifecycle notification kind sent to a subscriber.
type Event string

const (
	EventCreated Event = "SUBSCRIPTION_CREATED"
	EventRemoved Event = "SUBSCRIPTION_REMOVED"
)

// Request is one registered subscription. ClientID is the subscriber's MRN;
// at most one active subscription exists per client. SearchGeometry is the
// concrete geometry derived at registration time from the declared filters
// and is what matching runs against.
type Request struct {
	UUID            uuid.UUID
	ClientID        string
	ContainerType   string
	DataProductType string
	DataReference   *uuid.UUID
	Geometry        orb.Geometry
	UNLOCODE        string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	CreatedAt       time.Time

	SearchGeometry orb.Geometry
}

// Clone returns a copy safe to hand out of a store.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.Geometry != nil {
		c.Geometry = orb.Clone(r.Geometry)
	}
	if r.SearchGeometry != nil {
		c.SearchGeometry = orb.Clone(r.SearchGeometry)
	}
	if r.DataReference != nil {
		ref := *r.DataReference
		c.DataReference = &ref
	}
	if r.PeriodStart != nil {
		start := *r.PeriodStart
		c.PeriodStart = &start
	}
	if r.PeriodEnd != nil {
		end := *r.PeriodEnd
		c.PeriodEnd = &end
	}
	return &c
}

// OverlapsWindow reports whether the subscription window overlaps
// [from, to]. Nil query bounds are unconstrained, and a subscription with
// open bounds overlaps everything on that side.
func (r *Request) OverlapsWindow(from, to *time.Time) bool {
	if from != nil && r.PeriodEnd != nil && r.PeriodEnd.Before(*from) {
		return false
	}
	if to != nil && r.PeriodStart != nil && r.PeriodStart.After(*to) {
		return false
	}
	return true
}
