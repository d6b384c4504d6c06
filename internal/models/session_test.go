package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTypeValid(t *testing.T) {
	assert.True(t, SessionLecture.Valid())
	assert.True(t, SessionLab.Valid())
	assert.False(t, SessionType("seminar").Valid())
	assert.False(t, SessionType("").Valid())
}

func TestSubSessionClone(t *testing.T) {
	original := SubSession{
		Status:  SubSessionActive,
		Records: []AttendanceRecord{{ParticipantID: "student-1"}},
	}

	clone := original.Clone()
	clone.Status = SubSessionCompleted
	clone.Records[0].ParticipantID = "student-2"
	clone.Records = append(clone.Records, AttendanceRecord{ParticipantID: "student-3"})

	assert.Equal(t, SubSessionActive, original.Status)
	require.Len(t, original.Records, 1)
	assert.Equal(t, "student-1", original.Records[0].ParticipantID)
}

func TestSubSessionRecordLookup(t *testing.T) {
	sub := SubSession{Records: []AttendanceRecord{
		{ParticipantID: "student-1"},
		{ParticipantID: "student-2"},
	}}

	assert.Equal(t, 1, sub.RecordIndex("student-2"))
	assert.Equal(t, -1, sub.RecordIndex("student-3"))
	assert.True(t, sub.HasRecord("student-1"))
	assert.False(t, sub.HasRecord("student-3"))
}

func TestClassSessionSubAccessors(t *testing.T) {
	session := NewClassSession("class-1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, SubSessionInactive, session.Sub(SessionLecture).Status)
	assert.Equal(t, SubSessionInactive, session.Sub(SessionLab).Status)

	session.SetSub(SessionLab, SubSession{Status: SubSessionActive})
	assert.Equal(t, SubSessionActive, session.Lab.Status)
	assert.Equal(t, SubSessionInactive, session.Lecture.Status)
}

func TestDayOf(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Jakarta (UTC+7).
	ts := time.Date(2026, 9, 1, 23, 30, 0, 0, time.UTC)
	day := DayOf(ts, loc)
	assert.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, loc), day)

	utcDay := DayOf(ts, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), utcDay)

	assert.Equal(t, utcDay, DayOf(ts, nil))
}

func TestFrequencyTokenPrimary(t *testing.T) {
	token := FrequencyToken{440, 900}
	primary, ok := token.Primary()
	require.True(t, ok)
	assert.Equal(t, float64(440), primary)

	_, ok = FrequencyToken{}.Primary()
	assert.False(t, ok)
	_, ok = FrequencyToken(nil).Primary()
	assert.False(t, ok)
}

func TestFrequencyTokenRoundTrip(t *testing.T) {
	value, err := FrequencyToken{440, 900}.Value()
	require.NoError(t, err)

	var scanned FrequencyToken
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, FrequencyToken{440, 900}, scanned)

	var fromString FrequencyToken
	require.NoError(t, fromString.Scan("[256]"))
	assert.Equal(t, FrequencyToken{256}, fromString)

	var fromNil FrequencyToken
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)

	assert.Error(t, scanned.Scan(42))
}
