package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-live-attendance/internal/models"
)

// sessionDoc is the JSONB document persisted per (class, day).
type sessionDoc struct {
	Lecture models.SubSession `json:"lecture"`
	Lab     models.SubSession `json:"lab"`
}

type sessionRow struct {
	ClassID string    `db:"class_id"`
	Day     time.Time `db:"day"`
	Doc     []byte    `db:"doc"`
	Version int64     `db:"version"`
}

// SessionRepository persists attendance session documents. Writes are
// version-conditional: an update only succeeds when the caller still holds
// the current version, which backs the store's optimistic concurrency.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Find loads the session document for a class day. Returns sql.ErrNoRows
// when no document exists yet.
func (r *SessionRepository) Find(ctx context.Context, classID string, day time.Time) (*models.ClassSession, error) {
	var row sessionRow
	query := "SELECT class_id, day, doc, version FROM attendance_sessions WHERE class_id = $1 AND day = $2"
	if err := r.db.GetContext(ctx, &row, query, classID, day); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find session %s/%s: %w", classID, day.Format("2006-01-02"), err)
	}
	return rowToSession(row)
}

// Insert creates the initial document with version 1. A concurrent creator
// losing the race surfaces as a unique violation, which callers resolve by
// re-reading.
func (r *SessionRepository) Insert(ctx context.Context, session *models.ClassSession) error {
	doc, err := json.Marshal(sessionDoc{Lecture: session.Lecture, Lab: session.Lab})
	if err != nil {
		return fmt.Errorf("marshal session doc: %w", err)
	}
	query := "INSERT INTO attendance_sessions (class_id, day, doc, version) VALUES ($1, $2, $3, 1)"
	if _, err := r.db.ExecContext(ctx, query, session.ClassID, session.Day, doc); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert session %s: %w", session.ClassID, err)
	}
	session.Version = 1
	return nil
}

// ErrDuplicateSession signals that another writer created the document first.
var ErrDuplicateSession = fmt.Errorf("session document already exists")

// UpdateVersioned commits the document only when the stored version still
// matches expectedVersion. It reports false when another writer got there
// first.
func (r *SessionRepository) UpdateVersioned(ctx context.Context, session *models.ClassSession, expectedVersion int64) (bool, error) {
	doc, err := json.Marshal(sessionDoc{Lecture: session.Lecture, Lab: session.Lab})
	if err != nil {
		return false, fmt.Errorf("marshal session doc: %w", err)
	}
	query := "UPDATE attendance_sessions SET doc = $1, version = version + 1 WHERE class_id = $2 AND day = $3 AND version = $4"
	result, err := r.db.ExecContext(ctx, query, doc, session.ClassID, session.Day, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", session.ClassID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	session.Version = expectedVersion + 1
	return true, nil
}

// ListDays returns the days that have session documents for a class, newest
// first, for the read-side consumers.
func (r *SessionRepository) ListDays(ctx context.Context, classID string, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 30
	}
	var days []time.Time
	query := "SELECT day FROM attendance_sessions WHERE class_id = $1 ORDER BY day DESC LIMIT $2"
	if err := r.db.SelectContext(ctx, &days, query, classID, limit); err != nil {
		return nil, fmt.Errorf("list session days %s: %w", classID, err)
	}
	return days, nil
}

func rowToSession(row sessionRow) (*models.ClassSession, error) {
	var doc sessionDoc
	if err := json.Unmarshal(row.Doc, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session doc %s: %w", row.ClassID, err)
	}
	return &models.ClassSession{
		ClassID: row.ClassID,
		Day:     row.Day,
		Version: row.Version,
		Lecture: doc.Lecture,
		Lab:     doc.Lab,
	}, nil
}
