package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/realtime"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
)

type classRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	UpdateFrequency(ctx context.Context, classID string, token models.FrequencyToken, updatedAt time.Time) error
}

type broadcaster interface {
	Emit(classID, event string, payload map[string]interface{}, priority realtime.Priority) string
}

type summaryInvalidator interface {
	InvalidateDay(ctx context.Context, classID string, day time.Time)
}

// LifecycleService owns the start/end/frequency transitions of attendance
// sub-sessions. Every transition requires the caller to be the class's
// registered teacher.
type LifecycleService struct {
	classes     classRepository
	store       *SessionStore
	hub         broadcaster
	invalidator summaryInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewLifecycleService constructs the lifecycle service.
func NewLifecycleService(classes classRepository, store *SessionStore, hub broadcaster, invalidator summaryInvalidator, validate *validator.Validate, logger *zap.Logger) *LifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerSessionTypeValidation(validate)
	return &LifecycleService{
		classes:     classes,
		store:       store,
		hub:         hub,
		invalidator: invalidator,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

func registerSessionTypeValidation(validate *validator.Validate) {
	_ = validate.RegisterValidation("session_type", func(fl validator.FieldLevel) bool {
		return models.SessionType(fl.Field().String()).Valid()
	})
}

// StartSessionRequest opens (or reopens) an attendance window.
type StartSessionRequest struct {
	ClassID     string `json:"class_id" validate:"required"`
	SessionType string `json:"session_type" validate:"required,session_type"`
	TeacherID   string `json:"teacher_id" validate:"required"`
}

// EndSessionRequest closes an active attendance window.
type EndSessionRequest struct {
	ClassID     string `json:"class_id" validate:"required"`
	SessionType string `json:"session_type" validate:"required,session_type"`
	TeacherID   string `json:"teacher_id" validate:"required"`
}

// SetFrequencyRequest stores the frequency token students must reproduce.
type SetFrequencyRequest struct {
	ClassID   string    `json:"class_id" validate:"required"`
	TeacherID string    `json:"teacher_id" validate:"required"`
	Frequency []float64 `json:"frequency" validate:"required,min=1"`
}

// Start activates today's sub-session. A completed sub-session that already
// holds records is reactivated in place with its records intact (resume), a
// fresh one starts empty. Starting an already active sub-session conflicts.
func (s *LifecycleService) Start(ctx context.Context, req StartSessionRequest) (models.SubSession, error) {
	var zero models.SubSession
	if err := s.validator.Struct(req); err != nil {
		return zero, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if _, err := s.authorize(ctx, req.ClassID, req.TeacherID); err != nil {
		return zero, err
	}

	sessionType := models.SessionType(req.SessionType)
	day := s.store.Today()

	sub, err := s.store.Mutate(ctx, req.ClassID, day, sessionType, func(sub models.SubSession) (models.SubSession, bool, error) {
		if sub.Status == models.SubSessionActive {
			return sub, false, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s attendance is already active", sessionType))
		}
		sub.Status = models.SubSessionActive
		if sub.Records == nil {
			sub.Records = []models.AttendanceRecord{}
		}
		return sub, true, nil
	})
	if err != nil {
		return zero, err
	}

	s.hub.Emit(req.ClassID, realtime.EventSessionStarted, map[string]interface{}{
		"classId":     req.ClassID,
		"sessionType": string(sessionType),
		"teacherId":   req.TeacherID,
	}, realtime.PriorityHigh)
	s.invalidate(ctx, req.ClassID, day)

	s.logger.Info("attendance session started",
		zap.String("class_id", req.ClassID),
		zap.String("session_type", string(sessionType)),
		zap.Int("existing_records", len(sub.Records)),
	)
	return sub, nil
}

// End completes today's active sub-session. Ending a sub-session that is not
// active conflicts; records are never reset.
func (s *LifecycleService) End(ctx context.Context, req EndSessionRequest) (models.SubSession, error) {
	var zero models.SubSession
	if err := s.validator.Struct(req); err != nil {
		return zero, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if _, err := s.authorize(ctx, req.ClassID, req.TeacherID); err != nil {
		return zero, err
	}

	sessionType := models.SessionType(req.SessionType)
	day := s.store.Today()

	sub, err := s.store.Mutate(ctx, req.ClassID, day, sessionType, func(sub models.SubSession) (models.SubSession, bool, error) {
		if sub.Status != models.SubSessionActive {
			return sub, false, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("no active %s attendance session", sessionType))
		}
		sub.Status = models.SubSessionCompleted
		return sub, true, nil
	})
	if err != nil {
		return zero, err
	}

	s.hub.Emit(req.ClassID, realtime.EventSessionEnded, map[string]interface{}{
		"classId":     req.ClassID,
		"sessionType": string(sessionType),
		"teacherId":   req.TeacherID,
	}, realtime.PriorityHigh)
	s.invalidate(ctx, req.ClassID, day)

	s.logger.Info("attendance session ended",
		zap.String("class_id", req.ClassID),
		zap.String("session_type", string(sessionType)),
		zap.Int("records", len(sub.Records)),
	)
	return sub, nil
}

// SetFrequency stores the class frequency token, immediately visible to
// check-in validation. Independent of any particular sub-session.
func (s *LifecycleService) SetFrequency(ctx context.Context, req SetFrequencyRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if _, err := s.authorize(ctx, req.ClassID, req.TeacherID); err != nil {
		return err
	}

	if err := s.classes.UpdateFrequency(ctx, req.ClassID, models.FrequencyToken(req.Frequency), s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store frequency")
	}

	s.logger.Info("frequency token updated",
		zap.String("class_id", req.ClassID),
		zap.Int("token_length", len(req.Frequency)),
	)
	return nil
}

// Frequency returns the class's current frequency token, teacher-only.
func (s *LifecycleService) Frequency(ctx context.Context, classID, teacherID string) (models.FrequencyToken, *time.Time, error) {
	class, err := s.authorize(ctx, classID, teacherID)
	if err != nil {
		return nil, nil, err
	}
	return class.Frequency, class.FrequencyUpdatedAt, nil
}

func (s *LifecycleService) authorize(ctx context.Context, classID, teacherID string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to manage this class")
	}
	return class, nil
}

func (s *LifecycleService) invalidate(ctx context.Context, classID string, day time.Time) {
	if s.invalidator != nil {
		s.invalidator.InvalidateDay(ctx, classID, day)
	}
}
