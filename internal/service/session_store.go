package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/repository"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
)

type sessionRepository interface {
	Find(ctx context.Context, classID string, day time.Time) (*models.ClassSession, error)
	Insert(ctx context.Context, session *models.ClassSession) error
	UpdateVersioned(ctx context.Context, session *models.ClassSession, expectedVersion int64) (bool, error)
}

// MutateFunc computes the next sub-session state from a snapshot. It returns
// the new state and whether it should be committed; returning commit=false
// leaves the document untouched.
type MutateFunc func(sub models.SubSession) (models.SubSession, bool, error)

const defaultMutateRetries = 5

// SessionStore is the single point through which all session state changes
// pass. Writers never contend across (class, day, type); concurrent writers
// on the same document are serialized by version-checked commits with a
// bounded retry loop.
type SessionStore struct {
	repo    sessionRepository
	retries int
	loc     *time.Location
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewSessionStore constructs a session store.
func NewSessionStore(repo sessionRepository, retries int, loc *time.Location, metrics *MetricsService, logger *zap.Logger) *SessionStore {
	if retries <= 0 {
		retries = defaultMutateRetries
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{repo: repo, retries: retries, loc: loc, metrics: metrics, logger: logger, now: time.Now}
}

// Today returns the current day normalized to midnight in the reference
// timezone.
func (s *SessionStore) Today() time.Time {
	return models.DayOf(s.now(), s.loc)
}

// ParseDay interprets a YYYY-MM-DD value in the reference timezone. An empty
// value means today.
func (s *SessionStore) ParseDay(value string) (time.Time, error) {
	if value == "" {
		return s.Today(), nil
	}
	day, err := time.ParseInLocation("2006-01-02", value, s.loc)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}
	return day, nil
}

// GetOrCreate loads the session document for a class day, creating an empty
// one on first access. A lost creation race resolves by re-reading.
func (s *SessionStore) GetOrCreate(ctx context.Context, classID string, day time.Time) (*models.ClassSession, error) {
	session, err := s.repo.Find(ctx, classID, day)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	session = models.NewClassSession(classID, day)
	if err := s.repo.Insert(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateSession) {
			session, err = s.repo.Find(ctx, classID, day)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload session")
			}
			return session, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// Get loads the session document without creating it. Missing documents are
// reported as NOT_FOUND.
func (s *SessionStore) Get(ctx context.Context, classID string, day time.Time) (*models.ClassSession, error) {
	session, err := s.repo.Find(ctx, classID, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no session for this day")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Mutate applies fn to the sub-session under optimistic concurrency: read the
// current version, compute the new state against a snapshot, then commit only
// if the version is unchanged. Losing the race re-reads and re-applies fn,
// bounded by the retry limit; exhaustion surfaces TRANSIENT_STORE.
func (s *SessionStore) Mutate(ctx context.Context, classID string, day time.Time, sessionType models.SessionType, fn MutateFunc) (models.SubSession, error) {
	var zero models.SubSession

	for attempt := 0; attempt <= s.retries; attempt++ {
		session, err := s.GetOrCreate(ctx, classID, day)
		if err != nil {
			return zero, err
		}

		next, commit, err := fn(session.Sub(sessionType).Clone())
		if err != nil {
			return zero, err
		}
		if !commit {
			return next, nil
		}

		session.SetSub(sessionType, next)
		ok, err := s.repo.UpdateVersioned(ctx, session, session.Version)
		if err != nil {
			return zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit session")
		}
		if ok {
			return next, nil
		}

		s.metrics.RecordMutateConflict()
		s.logger.Debug("session version conflict, retrying",
			zap.String("class_id", classID),
			zap.String("session_type", string(sessionType)),
			zap.Int("attempt", attempt+1),
		)
	}

	return zero, appErrors.Clone(appErrors.ErrTransientStore, "session update contention, retry")
}
