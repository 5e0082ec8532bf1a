package unlocode

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
)

func TestResolveKnownPort(t *testing.T) {
	table := NewTable()

	g, err := table.Resolve("GBHUL")
	require.NoError(t, err)

	assert.True(t, geo.Intersects(g, orb.Point{-0.335, 53.744}))
	// A kilometre-scale ellipse does not reach the next port over.
	assert.False(t, geo.Intersects(g, orb.Point{-0.077, 53.578}))
}

func TestResolveNormalizesCode(t *testing.T) {
	table := NewTable()

	g, err := table.Resolve(" gbhul ")
	require.NoError(t, err)
	assert.True(t, geo.Intersects(g, orb.Point{-0.335, 53.744}))
}

func TestResolveUnknownPort(t *testing.T) {
	table := NewTable()

	_, err := table.Resolve("XXXXX")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
