package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time-ordered identifier for a new row.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// EnsureID assigns a new identifier to *id when it is empty.
func EnsureID(id *string) error {
	if *id != "" {
		return nil
	}
	v, err := NewID()
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// EncodeStrings encodes a string list as a JSON array. nil encodes as [].
func EncodeStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func DecodeStrings(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return v, nil
}

// EncodeMap encodes a free-form bag as a JSON object. nil encodes as {}.
func EncodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func DecodeMap(b []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return m, nil
}
