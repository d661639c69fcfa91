package run

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCanonical serializes a value to deterministic JSON: struct fields in
// declaration order, map keys sorted, HTML escaping disabled. Two snapshots
// folded from the same events marshal to identical bytes, which is what the
// replay determinism guarantee is checked against.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal canonical: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalSnapshot parses a stored snapshot body.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// UnmarshalDelta parses a stored event delta.
func UnmarshalDelta(data []byte) (*Delta, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal delta: %w", err)
	}
	return &d, nil
}
