package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FaceDescriptor is the embedding registered for a participant, compared by
// the external verification service. Stored as JSON.
type FaceDescriptor []float64

// Value serialises the descriptor as JSON for storage.
func (d FaceDescriptor) Value() (driver.Value, error) {
	return json.Marshal([]float64(d))
}

// Scan loads the descriptor from its JSON column representation.
func (d *FaceDescriptor) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported face descriptor source %T", src)
	}
	return json.Unmarshal(raw, (*[]float64)(d))
}
