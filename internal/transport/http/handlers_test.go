package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	atonmodels "atonsvc/internal/aton/models"
	atonstore "atonsvc/internal/aton/store"
	datasetservice "atonsvc/internal/dataset/service"
	datasetstore "atonsvc/internal/dataset/store"
	"atonsvc/internal/secom"
	subservice "atonsvc/internal/subscription/service"
	substore "atonsvc/internal/subscription/store"
	"atonsvc/internal/unlocode"
)

type stubDirectory struct{}

func (stubDirectory) ResolveEndpoint(ctx context.Context, mrn string) (string, error) {
	return "https://" + mrn + ".example/v1/object", nil
}

type stubClient struct{}

func (stubClient) Deliver(ctx context.Context, endpoint string, envelope secom.SignedEnvelope) error {
	return nil
}

type HandlerSuite struct {
	suite.Suite
	records *atonstore.MemoryStore
	engine  *datasetservice.Engine
	server  *httptest.Server
	cancel  context.CancelFunc
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.records = atonstore.NewMemoryStore()
	s.engine = datasetservice.New(datasetstore.NewMemoryStore(), s.records, secom.NewSerializer())

	notifier := subservice.NewNotifier(stubDirectory{}, stubClient{}, secom.NewHMACSigner("test-key"), 1, 16, time.Second)
	subscriptions := subservice.New(substore.NewMemoryStore(), s.engine, unlocode.NewTable(),
		secom.NewSerializer(), notifier)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go notifier.Run(ctx)

	s.server = httptest.NewServer(NewRouter(NewHandler(s.engine, subscriptions, s.records, nil)))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

func (s *HandlerSuite) do(method, path string, body any, headers map[string]string) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, out any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *HandlerSuite) createDataset() uuid.UUID {
	resp := s.do(http.MethodPost, "/api/v1/datasets", map[string]any{
		"title": "humber approaches",
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50}}},
		},
	}, nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created datasetResponse
	s.decode(resp, &created)
	return created.UUID
}

func (s *HandlerSuite) TestDatasetLifecycle() {
	id := s.createDataset()

	resp := s.do(http.MethodGet, "/api/v1/datasets/"+id.String(), nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var dataset datasetResponse
	s.decode(resp, &dataset)
	s.Equal("humber approaches", dataset.Title)
	s.False(dataset.Cancelled)

	resp = s.do(http.MethodGet, "/api/v1/datasets/"+id.String()+"/content", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var content contentResponse
	s.decode(resp, &content)
	s.Equal(int64(0), content.SequenceNo)
	s.NotEmpty(content.Content)

	resp = s.do(http.MethodPost, "/api/v1/datasets/"+id.String()+"/cancel", nil, nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// Cancelling twice conflicts.
	resp = s.do(http.MethodPost, "/api/v1/datasets/"+id.String()+"/cancel", nil, nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestDatasetContentLogQueries() {
	id := s.createDataset()

	_, err := s.records.Save(context.Background(), &atonmodels.Record{
		IDCode:     "urn:mrn:grad:aton:test:b1",
		AtonNumber: "b1",
		Geometry:   orb.Point{1.594, 53.61},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.engine.RequestContentUpdate(context.Background(), id))

	resp := s.do(http.MethodGet, "/api/v1/datasets/"+id.String()+"/log", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var newestFirst []logEntryResponse
	s.decode(resp, &newestFirst)
	s.Require().Len(newestFirst, 2)
	s.Equal(int64(1), newestFirst[0].SequenceNo)

	window := fmt.Sprintf("?from=%s&to=%s",
		time.Unix(0, 0).UTC().Format(time.RFC3339),
		time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	resp = s.do(http.MethodGet, "/api/v1/datasets/"+id.String()+"/log"+window, nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var oldestFirst []logEntryResponse
	s.decode(resp, &oldestFirst)
	s.Require().Len(oldestFirst, 2)
	s.Equal(int64(0), oldestFirst[0].SequenceNo)

	resp = s.do(http.MethodGet, "/api/v1/datasets/"+id.String()+"/content/initial", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var initial logEntryResponse
	s.decode(resp, &initial)
	s.Equal(int64(0), initial.SequenceNo)
	s.Equal("CREATED", initial.Operation)
}

func (s *HandlerSuite) TestUnknownDatasetIsNotFound() {
	resp := s.do(http.MethodGet, "/api/v1/datasets/"+uuid.NewString(), nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestInvalidUUIDIsBadRequest() {
	resp := s.do(http.MethodGet, "/api/v1/datasets/not-a-uuid", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestSubscriptionRegistrationRequiresClientHeader() {
	resp := s.do(http.MethodPost, "/api/v1/subscriptions", map[string]any{}, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestSubscriptionLifecycle() {
	resp := s.do(http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"containerType":   "S100_DataSet",
		"dataProductType": "S125",
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50}}},
		},
	}, map[string]string{ClientHeader: "urn:mrn:grad:org:client-a"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created subscriptionResponse
	s.decode(resp, &created)
	s.NotEqual(uuid.Nil, created.UUID)

	resp = s.do(http.MethodDelete, "/api/v1/subscriptions/"+created.UUID.String(), nil, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodDelete, "/api/v1/subscriptions/"+created.UUID.String(), nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestListRecordsByBBox() {
	_, err := s.records.Save(context.Background(), &atonmodels.Record{
		IDCode:     "urn:mrn:grad:aton:test:b1",
		AtonNumber: "b1",
		Geometry:   orb.Point{1.594, 53.61},
		Payload:    atonmodels.BuoyPayload{Variant: atonmodels.KindBuoyLateral, Colour: "red"},
	})
	s.Require().NoError(err)

	type recordView struct {
		IDCode string `json:"idCode"`
		Kind   string `json:"kind"`
	}

	resp := s.do(http.MethodGet, "/api/v1/records?bbox=0,50,5,55", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var records []recordView
	s.decode(resp, &records)
	s.Require().Len(records, 1)
	s.Equal("urn:mrn:grad:aton:test:b1", records[0].IDCode)
	s.Equal(string(atonmodels.KindBuoyLateral), records[0].Kind)

	resp = s.do(http.MethodGet, "/api/v1/records?bbox=10,10,11,11", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var empty []recordView
	s.decode(resp, &empty)
	s.Empty(empty)

	resp = s.do(http.MethodGet, "/api/v1/records?bbox=oops", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestHealth() {
	resp := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
