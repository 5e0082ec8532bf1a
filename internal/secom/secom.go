// Package secom implements the exchange-format capabilities the pipeline
// treats as opaque: deterministic content serialization and payload signing.
// The encoding is a stable GeoJSON profile; identical inputs always produce
// byte-identical output, which the content engine's delta computation and
// the regeneration round-trip property rely on.
package secom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb/geojson"

	atonmodels "atonsvc/internal/aton/models"
	dsmodels "atonsvc/internal/dataset/models"
)

// Serializer encodes AtoN records into the published content blob.
type Serializer struct{}

// NewSerializer constructs the GeoJSON profile serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Serialize packages a dataset and its member records into one content
// blob. Records are ordered by identifier code and all object keys are
// emitted sorted, so the output is deterministic.
func (s *Serializer) Serialize(dataset *dsmodels.Dataset, records []*atonmodels.Record) (string, error) {
	fc, err := featureCollection(records)
	if err != nil {
		return "", err
	}
	fc.ExtraMembers = geojson.Properties{
		"datasetId":    dataset.UUID.String(),
		"datasetTitle": dataset.Title,
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("marshal dataset content: %w", err)
	}
	return string(data), nil
}

// SerializeRecords packages a standalone record set, used for subscriber
// push payloads.
func (s *Serializer) SerializeRecords(records []*atonmodels.Record) (string, error) {
	fc, err := featureCollection(records)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("marshal record content: %w", err)
	}
	return string(data), nil
}

func featureCollection(records []*atonmodels.Record) (*geojson.FeatureCollection, error) {
	sorted := append([]*atonmodels.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IDCode < sorted[j].IDCode })

	fc := geojson.NewFeatureCollection()
	for _, record := range sorted {
		if record.Geometry == nil {
			return nil, fmt.Errorf("record %q has no geometry", record.IDCode)
		}

		f := geojson.NewFeature(record.Geometry)
		f.ID = record.IDCode
		f.Properties = geojson.Properties{
			"idCode":     record.IDCode,
			"atonNumber": record.AtonNumber,
			"kind":       string(record.Kind()),
		}
		if record.Description != "" {
			f.Properties["description"] = record.Description
		}
		if record.ValidFrom != nil {
			f.Properties["validFrom"] = record.ValidFrom.UTC().Format(time.RFC3339)
		}
		if record.ValidTo != nil {
			f.Properties["validTo"] = record.ValidTo.UTC().Format(time.RFC3339)
		}
		if record.Payload != nil {
			f.Properties["payload"] = record.Payload
		}
		if groupings := groupingList(record.Aggregations); groupings != nil {
			f.Properties["aggregations"] = groupings
		}
		if groupings := groupingList(record.Associations); groupings != nil {
			f.Properties["associations"] = groupings
		}
		fc.Append(f)
	}
	return fc, nil
}

func groupingList(groupings []atonmodels.Grouping) []atonmodels.Grouping {
	if len(groupings) == 0 {
		return nil
	}
	sorted := append([]atonmodels.Grouping(nil), groupings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })
	return sorted
}

// SignedEnvelope is the outbound payload wrapper pushed to subscribers.
// Operation distinguishes publications from withdrawals and is empty for
// lifecycle notifications.
type SignedEnvelope struct {
	Data      string `json:"data"`
	Digest    string `json:"digest"`
	Algorithm string `json:"algorithm"`
	Operation string `json:"operation,omitempty"`
}

// HMACSigner signs content with HMAC-SHA256. Real deployments swap in a
// certificate-backed signer; the pipeline only depends on the capability.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner constructs a signer from the shared key.
func NewHMACSigner(key string) *HMACSigner {
	return &HMACSigner{key: []byte(key)}
}

// Sign wraps content in a signed envelope.
func (s *HMACSigner) Sign(content string) (SignedEnvelope, error) {
	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write([]byte(content)); err != nil {
		return SignedEnvelope{}, fmt.Errorf("sign content: %w", err)
	}
	return SignedEnvelope{
		Data:      content,
		Digest:    hex.EncodeToString(mac.Sum(nil)),
		Algorithm: "hmac-sha256",
	}, nil
}
