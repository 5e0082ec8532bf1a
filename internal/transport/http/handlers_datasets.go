package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"atonsvc/internal/dataset/models"
	"atonsvc/pkg/platform/sentinel"
)

type createDatasetRequest struct {
	Title    string            `json:"title"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type datasetResponse struct {
	UUID      uuid.UUID         `json:"uuid"`
	Title     string            `json:"title"`
	Geometry  *geojson.Geometry `json:"geometry"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Cancelled bool              `json:"cancelled"`
}

type contentResponse struct {
	DatasetUUID   uuid.UUID `json:"datasetUuid"`
	SequenceNo    int64     `json:"sequenceNo"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Content       string    `json:"content"`
	ContentLength int64     `json:"contentLength"`
	Delta         string    `json:"delta,omitempty"`
	DeltaLength   int64     `json:"deltaLength"`
}

type logEntryResponse struct {
	contentResponse
	Operation string            `json:"operation"`
	Geometry  *geojson.Geometry `json:"geometry,omitempty"`
}

func toDatasetResponse(dataset *models.Dataset) datasetResponse {
	return datasetResponse{
		UUID:      dataset.UUID,
		Title:     dataset.Title,
		Geometry:  geojson.NewGeometry(dataset.Geometry),
		CreatedAt: dataset.CreatedAt,
		UpdatedAt: dataset.UpdatedAt,
		Cancelled: dataset.Cancelled,
	}
}

func toContentResponse(content *models.Content) contentResponse {
	return contentResponse{
		DatasetUUID:   content.DatasetUUID,
		SequenceNo:    content.SequenceNo,
		GeneratedAt:   content.GeneratedAt,
		Content:       content.Content,
		ContentLength: content.ContentLength,
		Delta:         content.Delta,
		DeltaLength:   content.DeltaLength,
	}
}

func toLogEntryResponse(entry *models.ContentLog) logEntryResponse {
	resp := logEntryResponse{
		contentResponse: contentResponse{
			DatasetUUID:   entry.DatasetUUID,
			SequenceNo:    entry.SequenceNo,
			GeneratedAt:   entry.GeneratedAt,
			Content:       entry.Content,
			ContentLength: entry.ContentLength,
			Delta:         entry.Delta,
			DeltaLength:   entry.DeltaLength,
		},
		Operation: string(entry.Operation),
	}
	if entry.Geometry != nil {
		resp.Geometry = geojson.NewGeometry(entry.Geometry)
	}
	return resp
}

func (h *Handler) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode dataset request: %w", sentinel.ErrMalformed))
		return
	}
	if req.Geometry == nil {
		writeError(w, fmt.Errorf("dataset geometry is required: %w", sentinel.ErrMalformed))
		return
	}

	dataset, err := h.engine.CreateDataset(r.Context(), &models.Dataset{
		Title:    req.Title,
		Geometry: req.Geometry.Geometry(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDatasetResponse(dataset))
}

func (h *Handler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	g, err := bboxGeometry(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, err)
		return
	}

	datasets, err := h.engine.FindDatasets(r.Context(), g)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]datasetResponse, 0, len(datasets))
	for _, dataset := range datasets {
		out = append(out, toDatasetResponse(dataset))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dataset, err := h.engine.FindDataset(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(dataset))
}

func (h *Handler) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.DeleteDataset(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancelDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.CancelDataset(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLatestContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	content, err := h.engine.LatestContent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContentResponse(content))
}

func (h *Handler) handleInitialContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.engine.InitialFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryResponse(entry))
}

// handleContentLog serves both log query shapes: "from"+"to" returns the
// entries in that window oldest first, a bare "at" (default now) returns
// everything generated at or before it newest first.
func (h *Handler) handleContentLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var entries []*models.ContentLog
	query := r.URL.Query()
	if query.Get("from") != "" || query.Get("to") != "" {
		from, err := queryTime(query.Get("from"), time.Unix(0, 0))
		if err != nil {
			writeError(w, err)
			return
		}
		to, err := queryTime(query.Get("to"), time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		entries, err = h.engine.LogsDuring(r.Context(), id, from, to)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		at, err := queryTime(query.Get("at"), time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		entries, err = h.engine.LogsFor(r.Context(), id, at)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	out := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toLogEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func pathUUID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", sentinel.ErrMalformed)
	}
	return id, nil
}

func queryTime(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, sentinel.ErrMalformed)
	}
	return t, nil
}
