package realtime

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcast event names pushed to class rooms.
const (
	EventSessionStarted   = "sessionStarted"
	EventSessionEnded     = "sessionEnded"
	EventAttendanceUpdate = "attendanceUpdate"
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
)

type broadcastMetrics interface {
	RecordBroadcast(event, mode string)
}

// Hub delivers events to class rooms. Delivery is at-least-once: every
// payload carries a notification ID consumers dedupe on, and high-priority
// events are redundantly direct-delivered to each known member connection in
// case a room join raced with the emit. Transport failures are logged and
// swallowed; they never fail the state mutation that triggered the event.
type Hub struct {
	transport Transport
	registry  *Registry
	metrics   broadcastMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewHub constructs a broadcast hub.
func NewHub(transport Transport, registry *Registry, metrics broadcastMetrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{transport: transport, registry: registry, metrics: metrics, logger: logger, now: time.Now}
}

// RoomName returns the transport room for a class.
func RoomName(classID string) string {
	return "class:" + classID
}

// Emit fans the event out to the class room and, for high-priority events,
// additionally to every member's known connections tagged direct. Returns
// the notification ID attached to the payload.
func (h *Hub) Emit(classID, event string, payload map[string]interface{}, priority Priority) string {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	notificationID := uuid.NewString()
	payload["notificationId"] = notificationID
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = h.now().UTC().Format(time.RFC3339)
	}

	if err := h.transport.EmitToRoom(RoomName(classID), event, payload); err != nil {
		h.logger.Warn("room broadcast failed",
			zap.String("class_id", classID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
	if h.metrics != nil {
		h.metrics.RecordBroadcast(event, "room")
	}

	if priority != PriorityHigh {
		return notificationID
	}

	// Redundant point-to-point delivery. Ordering relative to the room
	// delivery is not guaranteed; consumers key off the notification ID.
	direct := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		direct[k] = v
	}
	direct["direct"] = true

	for _, participantID := range h.registry.MembersOf(classID) {
		for _, conn := range h.registry.Connections(participantID) {
			if err := h.transport.EmitToConn(conn, event, direct); err != nil {
				h.logger.Warn("direct delivery failed",
					zap.String("class_id", classID),
					zap.String("participant_id", participantID),
					zap.String("event", event),
					zap.Error(err),
				)
				continue
			}
			if h.metrics != nil {
				h.metrics.RecordBroadcast(event, "direct")
			}
		}
	}

	return notificationID
}
