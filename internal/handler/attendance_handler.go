package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/service"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
	"github.com/noah-isme/sma-live-attendance/pkg/response"
)

// AttendanceHandler exposes the REST surface of the attendance coordinator.
// Every caller identity comes from the verified token, never from the body.
type AttendanceHandler struct {
	lifecycle *service.LifecycleService
	checkins  *service.CheckInService
	summaries *service.SummaryService
	store     *service.SessionStore
}

// NewAttendanceHandler constructs the attendance handler.
func NewAttendanceHandler(lifecycle *service.LifecycleService, checkins *service.CheckInService, summaries *service.SummaryService, store *service.SessionStore) *AttendanceHandler {
	return &AttendanceHandler{lifecycle: lifecycle, checkins: checkins, summaries: summaries, store: store}
}

// Start godoc
// @Summary Start an attendance session
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Param type path string true "Session type (lecture|lab)"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance/{type}/start [post]
func (h *AttendanceHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.lifecycle.Start(c.Request.Context(), service.StartSessionRequest{
		ClassID:     c.Param("id"),
		SessionType: c.Param("type"),
		TeacherID:   claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub)
}

// End godoc
// @Summary End an attendance session
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Param type path string true "Session type (lecture|lab)"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance/{type}/end [post]
func (h *AttendanceHandler) End(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.lifecycle.End(c.Request.Context(), service.EndSessionRequest{
		ClassID:     c.Param("id"),
		SessionType: c.Param("type"),
		TeacherID:   claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub)
}

type setFrequencyPayload struct {
	Frequency []float64 `json:"frequency"`
}

// SetFrequency godoc
// @Summary Issue the class frequency token
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body setFrequencyPayload true "Frequency token"
// @Success 204
// @Router /classes/{id}/frequency [post]
func (h *AttendanceHandler) SetFrequency(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload setFrequencyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	err := h.lifecycle.SetFrequency(c.Request.Context(), service.SetFrequencyRequest{
		ClassID:   c.Param("id"),
		TeacherID: claims.UserID,
		Frequency: payload.Frequency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetFrequency godoc
// @Summary Read the class frequency token
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/frequency [get]
func (h *AttendanceHandler) GetFrequency(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, updatedAt, err := h.lifecycle.Frequency(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"frequency": token, "updated_at": updatedAt})
}

type checkInPayload struct {
	ClassID           string    `json:"class_id"`
	SessionType       string    `json:"session_type"`
	DetectedFrequency *float64  `json:"detected_frequency"`
	FaceDescriptor    []float64 `json:"face_descriptor"`
}

// CheckIn godoc
// @Summary Record the caller as present
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body checkInPayload true "Check-in payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/check-in [post]
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload checkInPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.checkins.CheckIn(c.Request.Context(), service.CheckInRequest{
		ClassID:           payload.ClassID,
		ParticipantID:     claims.UserID,
		SessionType:       payload.SessionType,
		DetectedFrequency: payload.DetectedFrequency,
		FaceDescriptor:    payload.FaceDescriptor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Summary godoc
// @Summary Attendance view for one class day
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Param date query string false "Day (YYYY-MM-DD, defaults to today)"
// @Param type query string false "Session type (lecture|lab)"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	day, err := h.store.ParseDay(c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sessionType := models.SessionType(c.DefaultQuery("type", string(models.SessionLecture)))
	summary, err := h.summaries.Summary(c.Request.Context(), c.Param("id"), day, sessionType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// Export godoc
// @Summary Download the day's attendance sheet
// @Tags Attendance
// @Produce octet-stream
// @Param id path string true "Class ID"
// @Param date query string false "Day (YYYY-MM-DD, defaults to today)"
// @Param type query string false "Session type (lecture|lab)"
// @Param format query string false "csv or pdf"
// @Success 200
// @Router /classes/{id}/attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	day, err := h.store.ParseDay(c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sessionType := models.SessionType(c.DefaultQuery("type", string(models.SessionLecture)))
	data, contentType, filename, err := h.summaries.ExportSheet(c.Request.Context(), c.Param("id"), day, sessionType, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

// Days godoc
// @Summary List days with attendance documents
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Param limit query int false "Max days"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance/days [get]
func (h *AttendanceHandler) Days(c *gin.Context) {
	limit := 30
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "30")); err == nil && v > 0 {
		limit = v
	}
	days, err := h.summaries.Days(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"days": days})
}
