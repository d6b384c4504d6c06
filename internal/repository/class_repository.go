package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-live-attendance/internal/models"
)

// ClassRepository reads class ownership and enrollment data and stores the
// frequency token issued by the teacher.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID loads a class. Returns sql.ErrNoRows when the class is unknown.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	query := "SELECT id, name, teacher_id, student_ids, frequency, frequency_updated_at FROM classes WHERE id = $1"
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindFaceDescriptor loads the registered face descriptor of a participant.
// Returns sql.ErrNoRows when the participant never registered one.
func (r *ClassRepository) FindFaceDescriptor(ctx context.Context, participantID string) (models.FaceDescriptor, error) {
	var descriptor models.FaceDescriptor
	query := "SELECT descriptor FROM face_profiles WHERE participant_id = $1"
	if err := r.db.GetContext(ctx, &descriptor, query, participantID); err != nil {
		return nil, err
	}
	return descriptor, nil
}

// UpdateFrequency stores the frequency token for a class with its update
// timestamp.
func (r *ClassRepository) UpdateFrequency(ctx context.Context, classID string, token models.FrequencyToken, updatedAt time.Time) error {
	query := "UPDATE classes SET frequency = $1, frequency_updated_at = $2 WHERE id = $3"
	result, err := r.db.ExecContext(ctx, query, token, updatedAt, classID)
	if err != nil {
		return fmt.Errorf("update frequency %s: %w", classID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update frequency rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update frequency %s: class not found", classID)
	}
	return nil
}
