package models

import (
	"time"
)

// SessionType distinguishes the two independent sub-sessions of a class day.
type SessionType string

const (
	SessionLecture SessionType = "lecture"
	SessionLab     SessionType = "lab"
)

// Valid reports whether the session type is one of the known values.
func (t SessionType) Valid() bool {
	return t == SessionLecture || t == SessionLab
}

// SubSessionStatus is the lifecycle state of one sub-session.
type SubSessionStatus string

const (
	SubSessionInactive  SubSessionStatus = "inactive"
	SubSessionActive    SubSessionStatus = "active"
	SubSessionCompleted SubSessionStatus = "completed"
)

// AttendanceOutcome is the recorded result for one participant.
type AttendanceOutcome string

const (
	OutcomePresent AttendanceOutcome = "present"
	OutcomeAbsent  AttendanceOutcome = "absent"
)

// AttendanceRecord is one participant's recorded outcome within a sub-session.
type AttendanceRecord struct {
	ParticipantID string            `json:"participant_id"`
	Outcome       AttendanceOutcome `json:"outcome"`
	RecordedBy    string            `json:"recorded_by"`
	RecordedAt    time.Time         `json:"recorded_at"`
}

// SubSession is the state machine instance for one session type. Records keep
// insertion order; at most one record exists per participant.
type SubSession struct {
	Status  SubSessionStatus   `json:"status"`
	Records []AttendanceRecord `json:"records"`
}

// RecordIndex returns the index of the participant's record, or -1.
func (s SubSession) RecordIndex(participantID string) int {
	for i, record := range s.Records {
		if record.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

// HasRecord reports whether the participant already has a record.
func (s SubSession) HasRecord(participantID string) bool {
	return s.RecordIndex(participantID) >= 0
}

// Clone returns a deep copy safe to mutate without touching the original.
func (s SubSession) Clone() SubSession {
	clone := SubSession{Status: s.Status}
	if s.Records != nil {
		clone.Records = make([]AttendanceRecord, len(s.Records))
		copy(clone.Records, s.Records)
	}
	return clone
}

// ClassSession is the authoritative per-class, per-day attendance document.
// Version increments on every committed mutation and backs the conditional
// writes of the session repository.
type ClassSession struct {
	ClassID string     `json:"class_id"`
	Day     time.Time  `json:"day"`
	Version int64      `json:"version"`
	Lecture SubSession `json:"lecture"`
	Lab     SubSession `json:"lab"`
}

// NewClassSession builds an empty session document with both sub-sessions
// inactive.
func NewClassSession(classID string, day time.Time) *ClassSession {
	return &ClassSession{
		ClassID: classID,
		Day:     day,
		Lecture: SubSession{Status: SubSessionInactive, Records: []AttendanceRecord{}},
		Lab:     SubSession{Status: SubSessionInactive, Records: []AttendanceRecord{}},
	}
}

// Sub returns the sub-session for the given type.
func (s *ClassSession) Sub(t SessionType) SubSession {
	if t == SessionLab {
		return s.Lab
	}
	return s.Lecture
}

// SetSub replaces the sub-session for the given type.
func (s *ClassSession) SetSub(t SessionType, sub SubSession) {
	if t == SessionLab {
		s.Lab = sub
		return
	}
	s.Lecture = sub
}

// DayOf normalizes a timestamp to midnight in the reference timezone.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
