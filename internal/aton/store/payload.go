package store

import (
	"encoding/json"
	"fmt"

	"atonsvc/internal/aton/models"
)

// payloadEnvelope is the persisted form of the tagged payload union.
type payloadEnvelope struct {
	Kind models.Kind     `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

func marshalPayload(p models.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload body: %w", err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.Kind(), Body: body})
}

func unmarshalPayload(raw []byte) (models.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var envelope payloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	return models.DecodePayload(envelope.Kind, envelope.Body)
}
