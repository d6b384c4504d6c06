package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-live-attendance/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sampleDoc(t *testing.T) []byte {
	t.Helper()
	doc, err := json.Marshal(sessionDoc{
		Lecture: models.SubSession{
			Status: models.SubSessionActive,
			Records: []models.AttendanceRecord{
				{ParticipantID: "student-1", Outcome: models.OutcomePresent, RecordedBy: "teacher-1"},
			},
		},
		Lab: models.SubSession{Status: models.SubSessionInactive, Records: []models.AttendanceRecord{}},
	})
	require.NoError(t, err)
	return doc
}

func TestSessionRepositoryFind(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"class_id", "day", "doc", "version"}).
		AddRow("class-1", day, sampleDoc(t), int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT class_id, day, doc, version FROM attendance_sessions WHERE class_id = $1 AND day = $2")).
		WithArgs("class-1", day).
		WillReturnRows(rows)

	session, err := repo.Find(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Equal(t, "class-1", session.ClassID)
	assert.Equal(t, int64(3), session.Version)
	assert.Equal(t, models.SubSessionActive, session.Lecture.Status)
	require.Len(t, session.Lecture.Records, 1)
	assert.Equal(t, "student-1", session.Lecture.Records[0].ParticipantID)
	assert.Equal(t, models.SubSessionInactive, session.Lab.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT class_id, day, doc, version FROM attendance_sessions").
		WithArgs("class-1", day).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "class-1", day)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	session := models.NewClassSession("class-1", day)

	mock.ExpectExec("INSERT INTO attendance_sessions").
		WithArgs("class-1", day, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryInsertDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	session := models.NewClassSession("class-1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO attendance_sessions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Insert(context.Background(), session)
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryUpdateVersioned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	session := models.NewClassSession("class-1", day)
	session.Version = 2

	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_sessions SET doc = $1, version = version + 1 WHERE class_id = $2 AND day = $3 AND version = $4")).
		WithArgs(sqlmock.AnyArg(), "class-1", day, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateVersioned(context.Background(), session, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), session.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryUpdateVersionedConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	session := models.NewClassSession("class-1", day)
	session.Version = 2

	mock.ExpectExec("UPDATE attendance_sessions SET doc").
		WithArgs(sqlmock.AnyArg(), "class-1", day, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateVersioned(context.Background(), session, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), session.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListDays(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	rows := sqlmock.NewRows([]string{"day"}).
		AddRow(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)).
		AddRow(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT day FROM attendance_sessions WHERE class_id = $1 ORDER BY day DESC LIMIT $2")).
		WithArgs("class-1", 30).
		WillReturnRows(rows)

	days, err := repo.ListDays(context.Background(), "class-1", 0)
	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
