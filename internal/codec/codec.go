package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when bytes are not a valid encoded frame.
// Callers drop the frame and keep the connection.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a decoded relay message.
type Frame struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// frameWire is used on decode so that presence and type of each field can be checked.
type frameWire struct {
	Event   *string         `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal renders the JSON document for an event without the base64 layer.
func Marshal(name string, payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(Frame{Event: name, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal frame %q: %w", name, err)
	}
	return data, nil
}

// Encode renders an event as a wire frame.
func Encode(name string, payload map[string]any) ([]byte, error) {
	doc, err := Marshal(name, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(doc)))
	base64.StdEncoding.Encode(out, doc)
	return out, nil
}

// Decode parses a wire frame. Any failure matches ErrMalformedFrame.
func Decode(frame []byte) (Frame, error) {
	doc := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(doc, frame)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: base64: %v", ErrMalformedFrame, err)
	}
	return Unmarshal(doc[:n])
}

// Unmarshal parses a JSON frame document (no base64 layer).
func Unmarshal(doc []byte) (Frame, error) {
	var w frameWire
	if err := json.Unmarshal(doc, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: json: %v", ErrMalformedFrame, err)
	}

	if w.Event == nil || *w.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}

	payload := map[string]any{}
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		dec := json.NewDecoder(bytes.NewReader(w.Payload))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return Frame{}, fmt.Errorf("%w: payload is not an object", ErrMalformedFrame)
		}
		if payload == nil {
			payload = map[string]any{}
		}
		for k, v := range payload {
			payload[k] = normalize(v)
		}
	}

	return Frame{Event: *w.Event, Payload: payload}, nil
}

// normalize replaces json.Number values with int64 when the literal is an
// integer that fits, float64 otherwise.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}
