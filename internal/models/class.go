package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// FrequencyToken is the ordered sequence of frequency values a teacher issues
// when opening an attendance window. Only the first element is compared at
// check-in; the full sequence is stored as issued.
type FrequencyToken []float64

// Primary returns the authoritative first element.
func (f FrequencyToken) Primary() (float64, bool) {
	if len(f) == 0 {
		return 0, false
	}
	return f[0], true
}

// Value serialises the token as JSON for storage.
func (f FrequencyToken) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal([]float64{})
	}
	return json.Marshal([]float64(f))
}

// Scan loads the token from its JSON column representation.
func (f *FrequencyToken) Scan(src interface{}) error {
	if src == nil {
		*f = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported frequency token source %T", src)
	}
	return json.Unmarshal(raw, (*[]float64)(f))
}

// Class holds the enrollment and ownership data the coordinator reads.
type Class struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	TeacherID          string         `db:"teacher_id" json:"teacher_id"`
	StudentIDs         pq.StringArray `db:"student_ids" json:"student_ids"`
	Frequency          FrequencyToken `db:"frequency" json:"frequency"`
	FrequencyUpdatedAt *time.Time     `db:"frequency_updated_at" json:"frequency_updated_at,omitempty"`
}

// HasStudent reports whether the participant is enrolled in this class.
func (c *Class) HasStudent(participantID string) bool {
	for _, id := range c.StudentIDs {
		if id == participantID {
			return true
		}
	}
	return false
}
