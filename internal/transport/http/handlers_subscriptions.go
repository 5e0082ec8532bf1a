package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"atonsvc/internal/subscription/models"
	"atonsvc/pkg/platform/sentinel"
)

type subscriptionRequest struct {
	ContainerType   string            `json:"containerType"`
	DataProductType string            `json:"dataProductType"`
	DataReference   *uuid.UUID        `json:"dataReference,omitempty"`
	Geometry        *geojson.Geometry `json:"geometry,omitempty"`
	UNLOCODE        string            `json:"unlocode,omitempty"`
	PeriodStart     *time.Time        `json:"subscriptionPeriodStart,omitempty"`
	PeriodEnd       *time.Time        `json:"subscriptionPeriodEnd,omitempty"`
}

type subscriptionResponse struct {
	UUID      uuid.UUID `json:"subscriptionIdentifier"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleRegisterSubscription(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(ClientHeader)
	if clientID == "" {
		writeError(w, fmt.Errorf("missing %s header: %w", ClientHeader, sentinel.ErrMalformed))
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode subscription request: %w", sentinel.ErrMalformed))
		return
	}

	request := &models.Request{
		ClientID:        clientID,
		ContainerType:   req.ContainerType,
		DataProductType: req.DataProductType,
		DataReference:   req.DataReference,
		UNLOCODE:        req.UNLOCODE,
		PeriodStart:     req.PeriodStart,
		PeriodEnd:       req.PeriodEnd,
	}
	if req.Geometry != nil {
		request.Geometry = req.Geometry.Geometry()
	}

	saved, err := h.subscriptions.Register(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionResponse{
		UUID:      saved.UUID,
		CreatedAt: saved.CreatedAt,
	})
}

func (h *Handler) handleUnregisterSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.subscriptions.Unregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
