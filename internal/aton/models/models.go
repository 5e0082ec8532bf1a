// Package models defines the Aids to Navigation domain records. An AtoN is
// a physical or virtual maritime marker; type-specific attributes live in a
// tagged payload rather than a type hierarchy, and the aggregation and
// association peer graphs reference peers by business identifier so the
// model stays acyclic.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Kind discriminates the AtoN payload variants.
type Kind string

const (
	KindBuoyLateral      Kind = "buoy-lateral"
	KindBuoyCardinal     Kind = "buoy-cardinal"
	KindBuoySpecial      Kind = "buoy-special-purpose"
	KindBeaconLateral    Kind = "beacon-lateral"
	KindBeaconCardinal   Kind = "beacon-cardinal"
	KindLighthouse       Kind = "lighthouse"
	KindVirtualAIS       Kind = "virtual-ais"
	KindRadioStation     Kind = "radio-station"
	KindOffshorePlatform Kind = "offshore-platform"
)

// Payload carries the type-specific attributes of an AtoN record.
type Payload interface {
	Kind() Kind
}

// BuoyPayload covers the floating marks (lateral, cardinal, special purpose).
type BuoyPayload struct {
	Variant       Kind   `json:"variant"`
	Shape         string `json:"shape,omitempty"`
	Colour        string `json:"colour,omitempty"`
	ColourPattern string `json:"colourPattern,omitempty"`
	Category      string `json:"category,omitempty"`
}

func (p BuoyPayload) Kind() Kind { return p.Variant }

// BeaconPayload covers the fixed marks.
type BeaconPayload struct {
	Variant Kind    `json:"variant"`
	Shape   string  `json:"shape,omitempty"`
	Colour  string  `json:"colour,omitempty"`
	Height  float64 `json:"height,omitempty"`
}

func (p BeaconPayload) Kind() Kind { return p.Variant }

// LighthousePayload describes a major light structure.
type LighthousePayload struct {
	Construction string  `json:"construction,omitempty"`
	Height       float64 `json:"height,omitempty"`
	Exhibition   string  `json:"exhibition,omitempty"`
}

func (p LighthousePayload) Kind() Kind { return KindLighthouse }

// VirtualAISPayload describes a broadcast-only AtoN with no physical mark.
type VirtualAISPayload struct {
	MMSI    string `json:"mmsi,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

func (p VirtualAISPayload) Kind() Kind { return KindVirtualAIS }

// RadioStationPayload describes a radio aid such as a racon or DGPS station.
type RadioStationPayload struct {
	Category  string `json:"category,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

func (p RadioStationPayload) Kind() Kind { return KindRadioStation }

// GroupingCategory types an aggregation or association of AtoN peers.
type GroupingCategory string

const (
	// Aggregation categories: physically co-located peer groups.
	CategoryLeadingLine      GroupingCategory = "leading-line"
	CategoryMeasuredDistance GroupingCategory = "measured-distance"
	CategoryRangeSystem      GroupingCategory = "range-system"

	// Association categories: logical relationships between peers.
	CategoryDangerMarking  GroupingCategory = "danger-marking"
	CategoryChannelMarking GroupingCategory = "channel-marking"
)

// Grouping is a typed set of AtoN peers referenced by identifier code.
// Equality is defined by (category, peer set) regardless of construction
// order.
type Grouping struct {
	Category GroupingCategory `json:"category"`
	Peers    []string         `json:"peers"`
}

// NewGrouping builds a grouping with a normalized (sorted, deduplicated)
// peer set.
func NewGrouping(category GroupingCategory, peers ...string) Grouping {
	seen := make(map[string]struct{}, len(peers))
	normalized := make([]string, 0, len(peers))
	for _, p := range peers {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	sort.Strings(normalized)
	return Grouping{Category: category, Peers: normalized}
}

// Key returns the canonical identity of the grouping. Two groupings with the
// same category and peer membership produce the same key independent of peer
// insertion order.
func (g Grouping) Key() string {
	peers := append([]string(nil), g.Peers...)
	sort.Strings(peers)
	return string(g.Category) + "|" + strings.Join(peers, ",")
}

// Equal reports grouping equality by (category, peer set).
func (g Grouping) Equal(o Grouping) bool {
	return g.Key() == o.Key()
}

// Record is one Aid to Navigation. IDCode is the stable business key; the
// numeric database identity never leaves the store layer.
type Record struct {
	IDCode      string       `json:"idCode"`
	AtonNumber  string       `json:"atonNumber"`
	Geometry    orb.Geometry `json:"-"`
	ValidFrom   *time.Time   `json:"validFrom,omitempty"`
	ValidTo     *time.Time   `json:"validTo,omitempty"`
	Description string       `json:"description,omitempty"`
	Payload     Payload      `json:"-"`

	Aggregations []Grouping `json:"aggregations,omitempty"`
	Associations []Grouping `json:"associations,omitempty"`
}

// Kind returns the payload kind, or empty when the record has no payload.
func (r *Record) Kind() Kind {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Kind()
}

// ValidAt reports whether the record's validity period contains t.
// Open-ended bounds are treated as always valid on that side.
func (r *Record) ValidAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && t.After(*r.ValidTo) {
		return false
	}
	return true
}

// Clone returns a deep copy of the record so store snapshots cannot be
// mutated by callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Geometry != nil {
		c.Geometry = orb.Clone(r.Geometry)
	}
	if r.ValidFrom != nil {
		from := *r.ValidFrom
		c.ValidFrom = &from
	}
	if r.ValidTo != nil {
		to := *r.ValidTo
		c.ValidTo = &to
	}
	c.Aggregations = cloneGroupings(r.Aggregations)
	c.Associations = cloneGroupings(r.Associations)
	return &c
}

func cloneGroupings(in []Grouping) []Grouping {
	if in == nil {
		return nil
	}
	out := make([]Grouping, len(in))
	for i, g := range in {
		out[i] = Grouping{Category: g.Category, Peers: append([]string(nil), g.Peers...)}
	}
	return out
}
