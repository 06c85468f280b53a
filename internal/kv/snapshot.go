package kv

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// SaveSnapshot encodes v as JSON tagged with a schema version and writes it
// under namespace.
func SaveSnapshot(s Store, namespace string, version int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	raw, err := json.Marshal(envelope{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return s.Set(namespace, string(raw))
}

// LoadSnapshot reads the snapshot under namespace into v. A snapshot written
// with another version is never decoded: ErrVersionMismatch is returned and
// v is left untouched.
func LoadSnapshot(s Store, namespace string, version int, v any) error {
	raw, ok, err := s.Get(namespace)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("failed to parse snapshot envelope: %w", err)
	}
	if env.Version != version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, env.Version, version)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return nil
}
