package protocol

import (
	"encoding/json"
	"fmt"
)

// Probe extracts the "type" discriminator without decoding the full frame.
func Probe(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	return head.Type, nil
}

// Encode marshals a frame. Frames are small; errors here indicate a
// programming mistake, not bad input.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Inject returns a copy of the raw frame with the given fields set at the top
// level. This is how container-originated frames, whose schemas the backend
// does not know, pick up conversation_id and message_id on the way to the
// client.
func Inject(raw []byte, fields map[string]any) ([]byte, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode frame for injection: %w", err)
	}
	for k, v := range fields {
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encode frame: %w", err)
	}
	return out, nil
}
