package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"atonsvc/internal/aton/models"
	"atonsvc/pkg/platform/sentinel"
)

// RecordQuerier enumerates current AtoN records inside a geometry. The
// record store satisfies it.
type RecordQuerier interface {
	FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Record, error)
}

type recordResponse struct {
	IDCode       string            `json:"idCode"`
	AtonNumber   string            `json:"atonNumber"`
	Kind         string            `json:"kind,omitempty"`
	Geometry     *geojson.Geometry `json:"geometry"`
	ValidFrom    *time.Time        `json:"validFrom,omitempty"`
	ValidTo      *time.Time        `json:"validTo,omitempty"`
	Description  string            `json:"description,omitempty"`
	Payload      models.Payload    `json:"payload,omitempty"`
	Aggregations []models.Grouping `json:"aggregations,omitempty"`
	Associations []models.Grouping `json:"associations,omitempty"`
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	bbox := r.URL.Query().Get("bbox")
	if bbox == "" {
		writeError(w, fmt.Errorf("bbox query parameter is required: %w", sentinel.ErrMalformed))
		return
	}
	g, err := bboxGeometry(bbox)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.records.FindIntersecting(r.Context(), g)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, recordResponse{
			IDCode:       record.IDCode,
			AtonNumber:   record.AtonNumber,
			Kind:         string(record.Kind()),
			Geometry:     geojson.NewGeometry(record.Geometry),
			ValidFrom:    record.ValidFrom,
			ValidTo:      record.ValidTo,
			Description:  record.Description,
			Payload:      record.Payload,
			Aggregations: record.Aggregations,
			Associations: record.Associations,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// bboxGeometry parses a "minLon,minLat,maxLon,maxLat" query value. Empty
// input means no spatial constraint.
func bboxGeometry(value string) (orb.Geometry, error) {
	if value == "" {
		return nil, nil
	}

	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox needs minLon,minLat,maxLon,maxLat: %w", sentinel.ErrMalformed)
	}
	coords := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox coordinate %q: %w", part, sentinel.ErrMalformed)
		}
		coords[i] = v
	}

	bound := orb.Bound{
		Min: orb.Point{coords[0], coords[1]},
		Max: orb.Point{coords[2], coords[3]},
	}
	return bound.ToPolygon(), nil
}
