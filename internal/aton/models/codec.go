package models

import (
	"encoding/json"
	"fmt"
)

// DecodePayload builds the typed payload variant for a kind from its JSON
// body. An empty body yields a zero-valued payload of the right variant.
func DecodePayload(kind Kind, body json.RawMessage) (Payload, error) {
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}

	switch kind {
	case KindBuoyLateral, KindBuoyCardinal, KindBuoySpecial:
		var p BuoyPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal buoy payload: %w", err)
		}
		p.Variant = kind
		return p, nil
	case KindBeaconLateral, KindBeaconCardinal:
		var p BeaconPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal beacon payload: %w", err)
		}
		p.Variant = kind
		return p, nil
	case KindLighthouse:
		var p LighthousePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal lighthouse payload: %w", err)
		}
		return p, nil
	case KindVirtualAIS:
		var p VirtualAISPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal virtual AIS payload: %w", err)
		}
		return p, nil
	case KindRadioStation, KindOffshorePlatform:
		var p RadioStationPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal radio station payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
}
