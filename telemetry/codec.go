package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// MarshalJSON flattens Fields alongside the envelope so the wire form is a
// single flat object, matching §6's "Events are the JSON serialization of
// the TelemetryEvent records."
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["nodeId"] = e.NodeID
	out["timestamp"] = e.Timestamp.UnixMilli()
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object and splits it back into the typed
// envelope plus Fields. Timestamp MUST accept either a Unix-ms integer or
// an ISO-8601 string, per §3.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &e.Type); err != nil {
			return fmt.Errorf("decoding event type: %w", err)
		}
		delete(raw, "type")
	}
	if n, ok := raw["nodeId"]; ok {
		if err := json.Unmarshal(n, &e.NodeID); err != nil {
			return fmt.Errorf("decoding nodeId: %w", err)
		}
		delete(raw, "nodeId")
	}
	if ts, ok := raw["timestamp"]; ok {
		when, err := parseTimestamp(ts)
		if err != nil {
			return err
		}
		e.Timestamp = when
		delete(raw, "timestamp")
	}

	e.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("decoding field %q: %w", k, err)
		}
		e.Fields[k] = val
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return time.UnixMilli(int64(asNumber)), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		t, err := time.Parse(time.RFC3339Nano, asString)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing ISO-8601 timestamp %q: %w", asString, err)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("timestamp field is neither a number nor a string")
}
