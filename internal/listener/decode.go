package listener

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"atonsvc/internal/aton/models"
	"atonsvc/pkg/platform/sentinel"
)

// featureProperties is the decoded property block of one inbound feature.
// A single feature can describe the primary record plus its aggregation and
// association peers as an embedded graph. Unknown extra fields are ignored.
type featureProperties struct {
	IDCode       string            `json:"idCode"`
	AtonNumber   string            `json:"atonNumber"`
	Kind         models.Kind       `json:"kind"`
	Description  string            `json:"description"`
	ValidFrom    string            `json:"validFrom"`
	ValidTo      string            `json:"validTo"`
	Payload      json.RawMessage   `json:"payload"`
	Aggregations []models.Grouping `json:"aggregations"`
	Associations []models.Grouping `json:"associations"`
}

// DecodeRecords decodes an inbound change payload, a GeoJSON feature
// collection, into AtoN records. A missing identifier code or an
// undecodable feature makes the whole payload malformed.
func DecodeRecords(payload []byte) ([]*models.Record, error) {
	fc, err := geojson.UnmarshalFeatureCollection(payload)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %v: %w", err, sentinel.ErrMalformed)
	}

	records := make([]*models.Record, 0, len(fc.Features))
	for _, feature := range fc.Features {
		record, err := decodeFeature(feature)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeFeature(feature *geojson.Feature) (*models.Record, error) {
	if feature.Geometry == nil {
		return nil, fmt.Errorf("feature has no geometry: %w", sentinel.ErrMalformed)
	}

	raw, err := json.Marshal(feature.Properties)
	if err != nil {
		return nil, fmt.Errorf("re-encode feature properties: %w", err)
	}
	var props featureProperties
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode feature properties: %w", sentinel.ErrMalformed)
	}
	if props.IDCode == "" {
		return nil, fmt.Errorf("feature has no identifier code: %w", sentinel.ErrMalformed)
	}

	record := &models.Record{
		IDCode:      props.IDCode,
		AtonNumber:  props.AtonNumber,
		Geometry:    feature.Geometry,
		Description: props.Description,
	}

	if record.ValidFrom, err = parseTime(props.ValidFrom); err != nil {
		return nil, err
	}
	if record.ValidTo, err = parseTime(props.ValidTo); err != nil {
		return nil, err
	}

	if props.Kind != "" {
		if record.Payload, err = models.DecodePayload(props.Kind, props.Payload); err != nil {
			return nil, fmt.Errorf("%v: %w", err, sentinel.ErrMalformed)
		}
	}

	record.Aggregations = normalizeGroupings(props.Aggregations)
	record.Associations = normalizeGroupings(props.Associations)
	return record, nil
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("parse validity timestamp %q: %w", value, sentinel.ErrMalformed)
	}
	return &t, nil
}

func normalizeGroupings(in []models.Grouping) []models.Grouping {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Grouping, len(in))
	for i, g := range in {
		out[i] = models.NewGrouping(g.Category, g.Peers...)
	}
	return out
}
