package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	"github.com/noah-isme/sma-live-attendance/internal/realtime"
	"github.com/noah-isme/sma-live-attendance/internal/service"
	"github.com/noah-isme/sma-live-attendance/pkg/config"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
	"github.com/noah-isme/sma-live-attendance/pkg/response"
)

// Inbound frame events accepted over the websocket.
const (
	frameIdentify        = "identify"
	frameJoinClass       = "joinClass"
	frameLeaveClass      = "leaveClass"
	frameStartAttendance = "startAttendance"
	frameEndAttendance   = "endAttendance"
	frameMarkAttendance  = "markAttendance"
	frameFetchAttendance = "fetchAttendance"
)

// Reply events sent back to the requesting connection.
const (
	eventIdentified       = "identified"
	eventClassJoined      = "classJoined"
	eventClassLeft        = "classLeft"
	eventAttendanceMarked = "attendanceMarked"
	eventAttendanceData   = "attendanceData"
	eventAttendanceError  = "attendance:error"
)

// WSHandler upgrades websocket connections and dispatches their frames to the
// attendance services. It is the realtime.FrameHandler the client pump calls
// into. Identity is fixed at the handshake from the verified token; frames
// carry class references only.
type WSHandler struct {
	upgrader  websocket.Upgrader
	cfg       config.RealtimeConfig
	transport realtime.Transport
	registry  *realtime.Registry
	hub       *realtime.Hub
	lifecycle *service.LifecycleService
	checkins  *service.CheckInService
	summaries *service.SummaryService
	store     *service.SessionStore
	metrics   *service.MetricsService
	logger    *zap.Logger
}

// NewWSHandler constructs the websocket handler.
func NewWSHandler(cfg config.RealtimeConfig, allowedOrigins []string, transport realtime.Transport, registry *realtime.Registry, hub *realtime.Hub, lifecycle *service.LifecycleService, checkins *service.CheckInService, summaries *service.SummaryService, store *service.SessionStore, metrics *service.MetricsService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		cfg:       cfg,
		transport: transport,
		registry:  registry,
		hub:       hub,
		lifecycle: lifecycle,
		checkins:  checkins,
		summaries: summaries,
		store:     store,
		metrics:   metrics,
		logger:    logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the request and pumps the connection until it closes. The
// route must sit behind the JWT middleware.
func (h *WSHandler) Serve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(ws, claims.UserID, claims.Role, h.cfg, h.logger)
	h.registry.Identify(claims.UserID, client)
	h.metrics.ConnectionOpened()
	h.logger.Info("websocket connected",
		zap.String("conn_id", client.ID()),
		zap.String("user_id", claims.UserID),
	)

	client.Run(c.Request.Context(), h)
}

type classFrame struct {
	ClassID string `json:"classId"`
}

type lifecycleFrame struct {
	ClassID     string    `json:"classId"`
	SessionType string    `json:"sessionType"`
	Frequency   []float64 `json:"frequency,omitempty"`
}

type markFrame struct {
	ClassID           string    `json:"classId"`
	SessionType       string    `json:"sessionType"`
	DetectedFrequency *float64  `json:"detectedFrequency,omitempty"`
	FaceDescriptor    []float64 `json:"faceDescriptor,omitempty"`
}

type fetchFrame struct {
	ClassID     string `json:"classId"`
	SessionType string `json:"sessionType"`
	Date        string `json:"date,omitempty"`
}

// HandleFrame dispatches one inbound frame. Unknown events are answered with
// an error frame rather than dropping the connection.
func (h *WSHandler) HandleFrame(ctx context.Context, client *realtime.Client, frame realtime.Frame) {
	switch frame.Event {
	case frameIdentify:
		h.registry.Identify(client.UserID(), client)
		h.reply(client, eventIdentified, gin.H{"userId": client.UserID()})
	case frameJoinClass:
		h.handleJoin(client, frame)
	case frameLeaveClass:
		h.handleLeave(client, frame)
	case frameStartAttendance:
		h.handleStart(ctx, client, frame)
	case frameEndAttendance:
		h.handleEnd(ctx, client, frame)
	case frameMarkAttendance:
		h.handleMark(ctx, client, frame)
	case frameFetchAttendance:
		h.handleFetch(ctx, client, frame)
	default:
		h.replyError(client, appErrors.Clone(appErrors.ErrValidation, "unknown event "+frame.Event))
	}
}

// HandleDisconnect releases everything the connection held.
func (h *WSHandler) HandleDisconnect(client *realtime.Client) {
	h.registry.OnDisconnect(client)
	h.transport.DropConn(client)
	h.metrics.ConnectionClosed()
	h.logger.Info("websocket disconnected",
		zap.String("conn_id", client.ID()),
		zap.String("user_id", client.UserID()),
	)
}

func (h *WSHandler) handleJoin(client *realtime.Client, frame realtime.Frame) {
	var payload classFrame
	if !h.decode(client, frame, &payload) || payload.ClassID == "" {
		h.replyError(client, appErrors.Clone(appErrors.ErrValidation, "classId is required"))
		return
	}
	h.transport.JoinRoom(realtime.RoomName(payload.ClassID), client)
	h.registry.Join(payload.ClassID, client.UserID(), client)
	h.hub.Emit(payload.ClassID, realtime.EventUserJoined, map[string]interface{}{
		"classId": payload.ClassID,
		"userId":  client.UserID(),
	}, realtime.PriorityNormal)
	h.reply(client, eventClassJoined, gin.H{"classId": payload.ClassID})
}

func (h *WSHandler) handleLeave(client *realtime.Client, frame realtime.Frame) {
	var payload classFrame
	if !h.decode(client, frame, &payload) || payload.ClassID == "" {
		h.replyError(client, appErrors.Clone(appErrors.ErrValidation, "classId is required"))
		return
	}
	h.transport.LeaveRoom(realtime.RoomName(payload.ClassID), client)
	h.registry.Leave(payload.ClassID, client.UserID())
	h.hub.Emit(payload.ClassID, realtime.EventUserLeft, map[string]interface{}{
		"classId": payload.ClassID,
		"userId":  client.UserID(),
	}, realtime.PriorityNormal)
	h.reply(client, eventClassLeft, gin.H{"classId": payload.ClassID})
}

func (h *WSHandler) handleStart(ctx context.Context, client *realtime.Client, frame realtime.Frame) {
	var payload lifecycleFrame
	if !h.decode(client, frame, &payload) {
		return
	}
	if len(payload.Frequency) > 0 {
		err := h.lifecycle.SetFrequency(ctx, service.SetFrequencyRequest{
			ClassID:   payload.ClassID,
			TeacherID: client.UserID(),
			Frequency: payload.Frequency,
		})
		if err != nil {
			h.replyError(client, err)
			return
		}
	}
	_, err := h.lifecycle.Start(ctx, service.StartSessionRequest{
		ClassID:     payload.ClassID,
		SessionType: payload.SessionType,
		TeacherID:   client.UserID(),
	})
	if err != nil {
		h.replyError(client, err)
	}
	// Success is announced through the room broadcast.
}

func (h *WSHandler) handleEnd(ctx context.Context, client *realtime.Client, frame realtime.Frame) {
	var payload lifecycleFrame
	if !h.decode(client, frame, &payload) {
		return
	}
	_, err := h.lifecycle.End(ctx, service.EndSessionRequest{
		ClassID:     payload.ClassID,
		SessionType: payload.SessionType,
		TeacherID:   client.UserID(),
	})
	if err != nil {
		h.replyError(client, err)
	}
}

func (h *WSHandler) handleMark(ctx context.Context, client *realtime.Client, frame realtime.Frame) {
	var payload markFrame
	if !h.decode(client, frame, &payload) {
		return
	}
	result, err := h.checkins.CheckIn(ctx, service.CheckInRequest{
		ClassID:           payload.ClassID,
		ParticipantID:     client.UserID(),
		SessionType:       payload.SessionType,
		DetectedFrequency: payload.DetectedFrequency,
		FaceDescriptor:    payload.FaceDescriptor,
	})
	if err != nil {
		h.replyError(client, err)
		return
	}
	h.reply(client, eventAttendanceMarked, gin.H{
		"classId":         payload.ClassID,
		"accepted":        result.Accepted,
		"alreadyRecorded": result.AlreadyRecorded,
		"record":          result.Record,
	})
}

func (h *WSHandler) handleFetch(ctx context.Context, client *realtime.Client, frame realtime.Frame) {
	var payload fetchFrame
	if !h.decode(client, frame, &payload) {
		return
	}
	day, err := h.store.ParseDay(payload.Date)
	if err != nil {
		h.replyError(client, err)
		return
	}
	sessionType := models.SessionType(payload.SessionType)
	if payload.SessionType == "" {
		sessionType = models.SessionLecture
	}
	summary, err := h.summaries.Summary(ctx, payload.ClassID, day, sessionType)
	if err != nil {
		h.replyError(client, err)
		return
	}
	h.reply(client, eventAttendanceData, gin.H{
		"classId":      summary.ClassID,
		"day":          summary.Day,
		"sessionType":  summary.SessionType,
		"exists":       summary.Exists,
		"status":       summary.Status,
		"presentCount": summary.PresentCount,
		"records":      summary.Records,
	})
}

func (h *WSHandler) decode(client *realtime.Client, frame realtime.Frame, dest interface{}) bool {
	if len(frame.Data) == 0 {
		h.replyError(client, appErrors.Clone(appErrors.ErrValidation, "missing frame data"))
		return false
	}
	if err := json.Unmarshal(frame.Data, dest); err != nil {
		h.replyError(client, appErrors.Clone(appErrors.ErrValidation, "malformed frame data"))
		return false
	}
	return true
}

func (h *WSHandler) reply(client *realtime.Client, event string, payload gin.H) {
	if err := client.Send(event, payload); err != nil {
		h.logger.Debug("reply dropped", zap.String("conn_id", client.ID()), zap.Error(err))
	}
}

func (h *WSHandler) replyError(client *realtime.Client, err error) {
	appErr := appErrors.FromError(err)
	payload := gin.H{"code": appErr.Code, "message": appErr.Message}
	if len(appErr.Details) > 0 {
		payload["details"] = appErr.Details
	}
	if sendErr := client.Send(eventAttendanceError, payload); sendErr != nil {
		h.logger.Debug("error reply dropped", zap.String("conn_id", client.ID()), zap.Error(sendErr))
	}
}
