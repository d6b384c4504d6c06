package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/realtime"
	"github.com/noah-isme/sma-live-attendance/internal/verify"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
)

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type faceReader interface {
	FindFaceDescriptor(ctx context.Context, participantID string) (models.FaceDescriptor, error)
}

type faceVerifier interface {
	Verify(ctx context.Context, candidate, stored []float64) (*verify.Result, error)
}

const defaultFrequencyTolerance = 10.0

// CheckInService validates and records participant check-ins against the
// active attendance window.
type CheckInService struct {
	classes     classReader
	faces       faceReader
	store       *SessionStore
	hub         broadcaster
	verifier    faceVerifier
	invalidator summaryInvalidator
	tolerance   float64
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewCheckInService constructs the check-in service. verifier may be nil when
// the face path is disabled.
func NewCheckInService(classes classReader, faces faceReader, store *SessionStore, hub broadcaster, verifier *verify.Client, invalidator summaryInvalidator, tolerance float64, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CheckInService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tolerance <= 0 {
		tolerance = defaultFrequencyTolerance
	}
	registerSessionTypeValidation(validate)
	svc := &CheckInService{
		classes:     classes,
		faces:       faces,
		store:       store,
		hub:         hub,
		invalidator: invalidator,
		tolerance:   tolerance,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
	if verifier != nil {
		svc.verifier = verifier
	}
	return svc
}

// CheckInRequest is a participant's attempt to be recorded present.
type CheckInRequest struct {
	ClassID           string    `json:"class_id" validate:"required"`
	ParticipantID     string    `json:"participant_id" validate:"required"`
	SessionType       string    `json:"session_type" validate:"required,session_type"`
	DetectedFrequency *float64  `json:"detected_frequency"`
	FaceDescriptor    []float64 `json:"face_descriptor"`
}

// CheckInResult reports the outcome of an accepted check-in.
type CheckInResult struct {
	Accepted        bool                     `json:"accepted"`
	AlreadyRecorded bool                     `json:"already_recorded,omitempty"`
	Record          *models.AttendanceRecord `json:"record,omitempty"`
}

// CheckIn runs the validation gates in order, each one short-circuiting:
// active window, enrollment, frequency proximity, optional face
// verification, idempotency, then the versioned append plus broadcast.
func (s *CheckInService) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.DetectedFrequency == nil && len(req.FaceDescriptor) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "detected_frequency or face_descriptor is required")
	}

	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordCheckIn("rejected")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	sessionType := models.SessionType(req.SessionType)
	day := s.store.Today()

	session, err := s.store.GetOrCreate(ctx, req.ClassID, day)
	if err != nil {
		return nil, err
	}
	if session.Sub(sessionType).Status != models.SubSessionActive {
		s.metrics.RecordCheckIn("rejected")
		return nil, appErrors.Clone(appErrors.ErrConflict, "session not active")
	}

	if !class.HasStudent(req.ParticipantID) {
		s.metrics.RecordCheckIn("rejected")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this class")
	}

	if req.DetectedFrequency != nil {
		if err := s.matchFrequency(class, *req.DetectedFrequency); err != nil {
			s.metrics.RecordCheckIn("rejected")
			return nil, err
		}
	}

	if len(req.FaceDescriptor) > 0 {
		if err := s.verifyFace(ctx, req.ParticipantID, req.FaceDescriptor); err != nil {
			s.metrics.RecordCheckIn("rejected")
			return nil, err
		}
	}

	var (
		alreadyRecorded bool
		record          models.AttendanceRecord
	)
	_, err = s.store.Mutate(ctx, req.ClassID, day, sessionType, func(sub models.SubSession) (models.SubSession, bool, error) {
		alreadyRecorded = false
		// Re-check under the version guard: the window may have closed
		// between the pre-check and the commit.
		if sub.Status != models.SubSessionActive {
			return sub, false, appErrors.Clone(appErrors.ErrConflict, "session not active")
		}
		if idx := sub.RecordIndex(req.ParticipantID); idx >= 0 {
			alreadyRecorded = true
			record = sub.Records[idx]
			return sub, false, nil
		}
		record = models.AttendanceRecord{
			ParticipantID: req.ParticipantID,
			Outcome:       models.OutcomePresent,
			RecordedBy:    class.TeacherID,
			RecordedAt:    s.now().UTC(),
		}
		sub.Records = append(sub.Records, record)
		return sub, true, nil
	})
	if err != nil {
		s.metrics.RecordCheckIn("rejected")
		return nil, err
	}

	if alreadyRecorded {
		s.metrics.RecordCheckIn("duplicate")
		return &CheckInResult{Accepted: true, AlreadyRecorded: true, Record: &record}, nil
	}

	s.hub.Emit(req.ClassID, realtime.EventAttendanceUpdate, map[string]interface{}{
		"classId":       req.ClassID,
		"participantId": req.ParticipantID,
		"outcome":       string(record.Outcome),
		"sessionType":   string(sessionType),
	}, realtime.PriorityNormal)
	if s.invalidator != nil {
		s.invalidator.InvalidateDay(ctx, req.ClassID, day)
	}

	s.metrics.RecordCheckIn("accepted")
	s.logger.Info("check-in accepted",
		zap.String("class_id", req.ClassID),
		zap.String("participant_id", req.ParticipantID),
		zap.String("session_type", string(sessionType)),
	)
	return &CheckInResult{Accepted: true, Record: &record}, nil
}

// matchFrequency compares the detected value against the first element of
// the stored token within the absolute tolerance. This is a coarse proximity
// heuristic tolerant of sensor noise, not a cryptographic check.
func (s *CheckInService) matchFrequency(class *models.Class, detected float64) error {
	stored, ok := class.Frequency.Primary()
	if !ok {
		return appErrors.Clone(appErrors.ErrConflict, "no frequency issued for this class")
	}
	if math.Abs(stored-detected) > s.tolerance {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "frequency mismatch"),
			map[string]interface{}{"expected": stored, "detected": detected},
		)
	}
	return nil
}

func (s *CheckInService) verifyFace(ctx context.Context, participantID string, candidate []float64) error {
	if s.verifier == nil {
		return appErrors.Clone(appErrors.ErrValidation, "face verification is not enabled")
	}
	stored, err := s.faces.FindFaceDescriptor(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no registered face profile")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load face profile")
	}
	result, err := s.verifier.Verify(ctx, candidate, stored)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "face verification unavailable")
	}
	if !result.IsMatch {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "face verification failed"),
			map[string]interface{}{"confidence": result.Confidence},
		)
	}
	return nil
}
