// Package unlocode maps UN/LOCODE port identifiers to approximate coverage
// geometries. Subscriptions that declare a port instead of an explicit
// geometry are matched against an ellipse of roughly one kilometre around
// the port reference position.
package unlocode

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
)

// Semi-axes of the port coverage ellipse in meters.
const (
	semiMajorMeters = 500
	semiMinorMeters = 500
)

// Reference positions for the ports the service knows about. The table is
// deliberately small; a production deployment loads the full UN/LOCODE
// registry instead.
var ports = map[string]orb.Point{
	"GBHUL": {-0.335, 53.744}, // Hull
	"GBGSY": {-0.077, 53.578}, // Grimsby
	"GBIMM": {-0.188, 53.631}, // Immingham
	"GBLON": {-0.081, 51.505}, // London
	"NLRTM": {4.477, 51.924},  // Rotterdam
	"DEHAM": {9.966, 53.546},  // Hamburg
	"DKAAR": {10.227, 56.150}, // Aarhus
	"SEGOT": {11.956, 57.707}, // Gothenburg
	"GRPIR": {23.631, 37.947}, // Piraeus
}

// Table resolves UN/LOCODEs against the built-in port registry.
type Table struct{}

// NewTable constructs the built-in resolver.
func NewTable() *Table {
	return &Table{}
}

// Resolve returns the coverage geometry for a UN/LOCODE. Unknown codes
// surface sentinel.ErrNotFound.
func (t *Table) Resolve(code string) (orb.Geometry, error) {
	center, ok := ports[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("unlocode %q: %w", code, sentinel.ErrNotFound)
	}
	return geo.Ellipse(center, semiMajorMeters, semiMinorMeters), nil
}
