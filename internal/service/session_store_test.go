package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/repository"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
)

// memSessionRepo is an in-memory stand-in for the Postgres-backed session
// repository, honoring the same version-guarded commit contract.
type memSessionRepo struct {
	mu              sync.Mutex
	docs            map[string]*models.ClassSession
	days            map[string][]time.Time
	forcedConflicts int
	findErr         error
	updateCalls     int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{docs: make(map[string]*models.ClassSession)}
}

func sessionKey(classID string, day time.Time) string {
	return classID + "|" + day.Format("2006-01-02")
}

func cloneSession(s *models.ClassSession) *models.ClassSession {
	clone := *s
	clone.Lecture = s.Lecture.Clone()
	clone.Lab = s.Lab.Clone()
	return &clone
}

func (m *memSessionRepo) Find(ctx context.Context, classID string, day time.Time) (*models.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	doc, ok := m.docs[sessionKey(classID, day)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneSession(doc), nil
}

func (m *memSessionRepo) Insert(ctx context.Context, session *models.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(session.ClassID, session.Day)
	if _, exists := m.docs[key]; exists {
		return repository.ErrDuplicateSession
	}
	session.Version = 1
	m.docs[key] = cloneSession(session)
	return nil
}

func (m *memSessionRepo) UpdateVersioned(ctx context.Context, session *models.ClassSession, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		return false, nil
	}
	key := sessionKey(session.ClassID, session.Day)
	stored, ok := m.docs[key]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	next := cloneSession(session)
	next.Version = expectedVersion + 1
	m.docs[key] = next
	return true, nil
}

func (m *memSessionRepo) ListDays(ctx context.Context, classID string, limit int) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[classID], nil
}

func newTestStore(repo sessionRepository, retries int) *SessionStore {
	return NewSessionStore(repo, retries, time.UTC, nil, zap.NewNop())
}

func TestSessionStoreGetOrCreate(t *testing.T) {
	repo := newMemSessionRepo()
	store := newTestStore(repo, 5)
	day := models.DayOf(time.Now(), time.UTC)

	session, err := store.GetOrCreate(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Equal(t, "class-1", session.ClassID)
	assert.Equal(t, models.SubSessionInactive, session.Lecture.Status)
	assert.Equal(t, models.SubSessionInactive, session.Lab.Status)

	again, err := store.GetOrCreate(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Equal(t, session.Version, again.Version)
}

func TestSessionStoreGetMissing(t *testing.T) {
	store := newTestStore(newMemSessionRepo(), 5)

	_, err := store.Get(context.Background(), "class-1", store.Today())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}

func TestSessionStoreMutateCommits(t *testing.T) {
	repo := newMemSessionRepo()
	store := newTestStore(repo, 5)
	day := store.Today()

	sub, err := store.Mutate(context.Background(), "class-1", day, models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
		sub.Status = models.SubSessionActive
		return sub, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, sub.Status)

	stored, err := store.Get(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, stored.Lecture.Status)
	assert.Equal(t, models.SubSessionInactive, stored.Lab.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSessionStoreMutateNoCommitLeavesDocument(t *testing.T) {
	repo := newMemSessionRepo()
	store := newTestStore(repo, 5)
	day := store.Today()

	_, err := store.GetOrCreate(context.Background(), "class-1", day)
	require.NoError(t, err)

	_, err = store.Mutate(context.Background(), "class-1", day, models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
		sub.Status = models.SubSessionActive
		return sub, false, nil
	})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionInactive, stored.Lecture.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Zero(t, repo.updateCalls)
}

func TestSessionStoreMutateRetriesOnConflict(t *testing.T) {
	repo := newMemSessionRepo()
	repo.forcedConflicts = 2
	store := newTestStore(repo, 5)

	sub, err := store.Mutate(context.Background(), "class-1", store.Today(), models.SessionLab, func(sub models.SubSession) (models.SubSession, bool, error) {
		sub.Status = models.SubSessionActive
		return sub, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, sub.Status)
	assert.Equal(t, 3, repo.updateCalls)
}

func TestSessionStoreMutateContentionExhausted(t *testing.T) {
	repo := newMemSessionRepo()
	repo.forcedConflicts = 100
	store := newTestStore(repo, 3)

	_, err := store.Mutate(context.Background(), "class-1", store.Today(), models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
		return sub, true, nil
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransientStore.Code))
}

func TestSessionStoreMutateFnErrorShortCircuits(t *testing.T) {
	repo := newMemSessionRepo()
	store := newTestStore(repo, 5)

	_, err := store.Mutate(context.Background(), "class-1", store.Today(), models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
		return sub, false, appErrors.ErrConflict
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict.Code))
	assert.Zero(t, repo.updateCalls)
}

func TestSessionStoreConcurrentWritersLoseNothing(t *testing.T) {
	repo := newMemSessionRepo()
	store := newTestStore(repo, 50)
	day := store.Today()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Mutate(context.Background(), "class-1", day, models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
				sub.Records = append(sub.Records, models.AttendanceRecord{
					ParticipantID: fmt.Sprintf("student-%d", n),
					Outcome:       models.OutcomePresent,
				})
				return sub, true, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := store.Get(context.Background(), "class-1", day)
	require.NoError(t, err)
	assert.Len(t, stored.Lecture.Records, writers)

	seen := make(map[string]bool)
	for _, record := range stored.Lecture.Records {
		assert.False(t, seen[record.ParticipantID], "duplicate record for %s", record.ParticipantID)
		seen[record.ParticipantID] = true
	}
}

func TestSessionStoreParseDay(t *testing.T) {
	store := newTestStore(newMemSessionRepo(), 5)

	day, err := store.ParseDay("2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), day)

	today, err := store.ParseDay("")
	require.NoError(t, err)
	assert.Equal(t, store.Today(), today)

	_, err = store.ParseDay("09/01/2026")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}
