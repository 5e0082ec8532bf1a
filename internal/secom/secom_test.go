package secom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atonmodels "atonsvc/internal/aton/models"
	dsmodels "atonsvc/internal/dataset/models"
)

func testRecords() []*atonmodels.Record {
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	return []*atonmodels.Record{
		{
			IDCode:     "urn:mrn:grad:aton:test:b2",
			AtonNumber: "b2",
			Geometry:   orb.Point{1.6, 53.62},
			Payload:    atonmodels.BuoyPayload{Variant: atonmodels.KindBuoyLateral, Colour: "green"},
		},
		{
			IDCode:     "urn:mrn:grad:aton:test:b1",
			AtonNumber: "b1",
			Geometry:   orb.Point{1.594, 53.61},
			ValidFrom:  &from,
			Payload:    atonmodels.BuoyPayload{Variant: atonmodels.KindBuoyLateral, Colour: "red"},
			Aggregations: []atonmodels.Grouping{
				atonmodels.NewGrouping(atonmodels.CategoryLeadingLine, "peer-b", "peer-a"),
			},
		},
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	serializer := NewSerializer()
	dataset := &dsmodels.Dataset{UUID: uuid.New(), Title: "north sea cell"}

	first, err := serializer.Serialize(dataset, testRecords())
	require.NoError(t, err)

	// Same records in a different slice order must yield the same bytes.
	reversed := testRecords()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	second, err := serializer.Serialize(dataset, reversed)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSerializeRecordsOrdersByIdentifier(t *testing.T) {
	content, err := NewSerializer().SerializeRecords(testRecords())
	require.NoError(t, err)

	b1 := strings.Index(content, "urn:mrn:grad:aton:test:b1")
	b2 := strings.Index(content, "urn:mrn:grad:aton:test:b2")
	require.NotEqual(t, -1, b1)
	require.NotEqual(t, -1, b2)
	assert.Less(t, b1, b2)
}

func TestSerializeRejectsMissingGeometry(t *testing.T) {
	records := testRecords()
	records[0].Geometry = nil

	_, err := NewSerializer().SerializeRecords(records)
	assert.Error(t, err)
}

func TestHMACSignerDigestVerifies(t *testing.T) {
	signer := NewHMACSigner("shared-key")

	envelope, err := signer.Sign(`{"type":"FeatureCollection"}`)
	require.NoError(t, err)
	assert.Equal(t, "hmac-sha256", envelope.Algorithm)

	mac := hmac.New(sha256.New, []byte("shared-key"))
	mac.Write([]byte(envelope.Data))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), envelope.Digest)
}
