// Package httptransport is the thin HTTP layer over the dataset engine and
// subscription service. Handlers delegate to domain services without
// embedding business logic so transport concerns stay isolated.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	datasetservice "atonsvc/internal/dataset/service"
	subservice "atonsvc/internal/subscription/service"
	"atonsvc/pkg/platform/sentinel"
)

// ClientHeader carries the caller's maritime resource name on subscription
// requests.
const ClientHeader = "MRN"

// Handler exposes the service API.
type Handler struct {
	engine        *datasetservice.Engine
	subscriptions *subservice.Service
	records       RecordQuerier
	logger        *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(engine *datasetservice.Engine, subscriptions *subservice.Service,
	records RecordQuerier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:        engine,
		subscriptions: subscriptions,
		records:       records,
		logger:        logger,
	}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/datasets", func(r chi.Router) {
			r.Post("/", h.handleCreateDataset)
			r.Get("/", h.handleListDatasets)
			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", h.handleGetDataset)
				r.Delete("/", h.handleDeleteDataset)
				r.Post("/cancel", h.handleCancelDataset)
				r.Get("/content", h.handleLatestContent)
				r.Get("/content/initial", h.handleInitialContent)
				r.Get("/log", h.handleContentLog)
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.handleRegisterSubscription)
			r.Delete("/{uuid}", h.handleUnregisterSubscription)
		})

		r.Get("/records", h.handleListRecords)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation so every handler returns
// the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sentinel.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sentinel.ErrCancelled), errors.Is(err, sentinel.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
