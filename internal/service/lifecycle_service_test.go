package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/realtime"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
)

type mockClassRepo struct {
	classes         map[string]*models.Class
	frequencyCalls  int
	lastFrequency   models.FrequencyToken
	descriptors     map[string]models.FaceDescriptor
	updateFreqError error
}

func newMockClassRepo(classes ...*models.Class) *mockClassRepo {
	repo := &mockClassRepo{classes: make(map[string]*models.Class), descriptors: make(map[string]models.FaceDescriptor)}
	for _, class := range classes {
		repo.classes[class.ID] = class
	}
	return repo
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (m *mockClassRepo) UpdateFrequency(ctx context.Context, classID string, token models.FrequencyToken, updatedAt time.Time) error {
	if m.updateFreqError != nil {
		return m.updateFreqError
	}
	m.frequencyCalls++
	m.lastFrequency = token
	if class, ok := m.classes[classID]; ok {
		class.Frequency = token
	}
	return nil
}

func (m *mockClassRepo) FindFaceDescriptor(ctx context.Context, participantID string) (models.FaceDescriptor, error) {
	descriptor, ok := m.descriptors[participantID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return descriptor, nil
}

type emittedEvent struct {
	classID  string
	event    string
	payload  map[string]interface{}
	priority realtime.Priority
}

type fakeHub struct {
	events []emittedEvent
}

func (f *fakeHub) Emit(classID, event string, payload map[string]interface{}, priority realtime.Priority) string {
	f.events = append(f.events, emittedEvent{classID: classID, event: event, payload: payload, priority: priority})
	return "notif-" + event
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateDay(ctx context.Context, classID string, day time.Time) {
	f.calls++
}

func testClass() *models.Class {
	return &models.Class{
		ID:         "class-1",
		Name:       "Networks",
		TeacherID:  "teacher-1",
		StudentIDs: []string{"student-1", "student-2"},
		Frequency:  models.FrequencyToken{440},
	}
}

func newLifecycleFixture(t *testing.T) (*LifecycleService, *memSessionRepo, *fakeHub, *fakeInvalidator) {
	t.Helper()
	repo := newMemSessionRepo()
	hub := &fakeHub{}
	invalidator := &fakeInvalidator{}
	store := newTestStore(repo, 5)
	svc := NewLifecycleService(newMockClassRepo(testClass()), store, hub, invalidator, nil, zap.NewNop())
	return svc, repo, hub, invalidator
}

func TestLifecycleStartActivatesSession(t *testing.T) {
	svc, _, hub, invalidator := newLifecycleFixture(t)

	sub, err := svc.Start(context.Background(), StartSessionRequest{
		ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, sub.Status)
	assert.Empty(t, sub.Records)

	require.Len(t, hub.events, 1)
	assert.Equal(t, realtime.EventSessionStarted, hub.events[0].event)
	assert.Equal(t, realtime.PriorityHigh, hub.events[0].priority)
	assert.Equal(t, "class-1", hub.events[0].payload["classId"])
	assert.Equal(t, 1, invalidator.calls)
}

func TestLifecycleStartAlreadyActiveConflicts(t *testing.T) {
	svc, _, hub, _ := newLifecycleFixture(t)

	_, err := svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "lab", TeacherID: "teacher-1"})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "lab", TeacherID: "teacher-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict.Code))
	assert.Len(t, hub.events, 1)
}

func TestLifecycleSessionTypesAreIndependent(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(t)

	_, err := svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)

	sub, err := svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "lab", TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, sub.Status)
}

func TestLifecycleReopenKeepsRecords(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)

	_, err = svc.store.Mutate(ctx, "class-1", svc.store.Today(), models.SessionLecture, func(sub models.SubSession) (models.SubSession, bool, error) {
		sub.Records = append(sub.Records, models.AttendanceRecord{ParticipantID: "student-1", Outcome: models.OutcomePresent})
		return sub, true, nil
	})
	require.NoError(t, err)

	_, err = svc.End(ctx, EndSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)

	sub, err := svc.Start(ctx, StartSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionActive, sub.Status)
	require.Len(t, sub.Records, 1)
	assert.Equal(t, "student-1", sub.Records[0].ParticipantID)
}

func TestLifecycleStartAuthorization(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(t)

	_, err := svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "intruder"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden.Code))

	_, err = svc.Start(context.Background(), StartSessionRequest{ClassID: "missing", SessionType: "lecture", TeacherID: "teacher-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}

func TestLifecycleStartRejectsUnknownSessionType(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(t)

	_, err := svc.Start(context.Background(), StartSessionRequest{ClassID: "class-1", SessionType: "seminar", TeacherID: "teacher-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestLifecycleEndCompletesSession(t *testing.T) {
	svc, _, hub, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)

	sub, err := svc.End(ctx, EndSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Equal(t, models.SubSessionCompleted, sub.Status)

	require.Len(t, hub.events, 2)
	assert.Equal(t, realtime.EventSessionEnded, hub.events[1].event)
	assert.Equal(t, realtime.PriorityHigh, hub.events[1].priority)
}

func TestLifecycleEndWithoutActiveSessionConflicts(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(t)

	_, err := svc.End(context.Background(), EndSessionRequest{ClassID: "class-1", SessionType: "lecture", TeacherID: "teacher-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict.Code))
}

func TestLifecycleSetFrequency(t *testing.T) {
	classes := newMockClassRepo(testClass())
	store := newTestStore(newMemSessionRepo(), 5)
	svc := NewLifecycleService(classes, store, &fakeHub{}, nil, nil, zap.NewNop())

	err := svc.SetFrequency(context.Background(), SetFrequencyRequest{
		ClassID: "class-1", TeacherID: "teacher-1", Frequency: []float64{512, 256},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, classes.frequencyCalls)
	assert.Equal(t, models.FrequencyToken{512, 256}, classes.lastFrequency)

	err = svc.SetFrequency(context.Background(), SetFrequencyRequest{
		ClassID: "class-1", TeacherID: "intruder", Frequency: []float64{512},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden.Code))

	err = svc.SetFrequency(context.Background(), SetFrequencyRequest{
		ClassID: "class-1", TeacherID: "teacher-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestLifecycleFrequencyReadback(t *testing.T) {
	classes := newMockClassRepo(testClass())
	store := newTestStore(newMemSessionRepo(), 5)
	svc := NewLifecycleService(classes, store, &fakeHub{}, nil, nil, zap.NewNop())

	token, _, err := svc.Frequency(context.Background(), "class-1", "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyToken{440}, token)

	_, _, err = svc.Frequency(context.Background(), "class-1", "intruder")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden.Code))
}
