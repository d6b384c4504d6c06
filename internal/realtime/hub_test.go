package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingTransport struct {
	roomEmits []roomEmit
	connEmits []connEmit
	roomErr   error
	connErr   error
}

type roomEmit struct {
	room    string
	event   string
	payload map[string]interface{}
}

type connEmit struct {
	connID  string
	event   string
	payload map[string]interface{}
}

func (r *recordingTransport) JoinRoom(string, Conn)  {}
func (r *recordingTransport) LeaveRoom(string, Conn) {}
func (r *recordingTransport) DropConn(Conn)          {}

func (r *recordingTransport) EmitToRoom(room, event string, payload map[string]interface{}) error {
	r.roomEmits = append(r.roomEmits, roomEmit{room: room, event: event, payload: payload})
	return r.roomErr
}

func (r *recordingTransport) EmitToConn(conn Conn, event string, payload map[string]interface{}) error {
	if r.connErr != nil {
		return r.connErr
	}
	r.connEmits = append(r.connEmits, connEmit{connID: conn.ID(), event: event, payload: payload})
	return nil
}

func TestHubEmitAttachesNotificationMetadata(t *testing.T) {
	transport := &recordingTransport{}
	hub := NewHub(transport, NewRegistry(), nil, zap.NewNop())

	id := hub.Emit("class-1", EventAttendanceUpdate, map[string]interface{}{"participantId": "student-1"}, PriorityNormal)
	require.NotEmpty(t, id)

	require.Len(t, transport.roomEmits, 1)
	emit := transport.roomEmits[0]
	assert.Equal(t, "class:class-1", emit.room)
	assert.Equal(t, EventAttendanceUpdate, emit.event)
	assert.Equal(t, id, emit.payload["notificationId"])
	assert.NotEmpty(t, emit.payload["timestamp"])
	assert.Equal(t, "student-1", emit.payload["participantId"])
	assert.NotContains(t, emit.payload, "direct")
}

func TestHubEmitNotificationIDsAreUnique(t *testing.T) {
	transport := &recordingTransport{}
	hub := NewHub(transport, NewRegistry(), nil, zap.NewNop())

	first := hub.Emit("class-1", EventSessionStarted, nil, PriorityNormal)
	second := hub.Emit("class-1", EventSessionStarted, nil, PriorityNormal)
	assert.NotEqual(t, first, second)
}

func TestHubHighPriorityDirectDelivery(t *testing.T) {
	transport := &recordingTransport{}
	registry := NewRegistry()
	registry.Join("class-1", "student-1", &fakeConn{id: "conn-1"})
	registry.Join("class-1", "student-1", &fakeConn{id: "conn-2"})
	registry.Join("class-1", "student-2", &fakeConn{id: "conn-3"})
	hub := NewHub(transport, registry, nil, zap.NewNop())

	hub.Emit("class-1", EventSessionStarted, map[string]interface{}{"classId": "class-1"}, PriorityHigh)

	assert.Len(t, transport.roomEmits, 1)
	assert.Len(t, transport.connEmits, 3)
	for _, emit := range transport.connEmits {
		assert.Equal(t, EventSessionStarted, emit.event)
		assert.Equal(t, true, emit.payload["direct"])
		assert.NotEmpty(t, emit.payload["notificationId"])
	}
	// The room payload was not polluted by the direct copy.
	assert.NotContains(t, transport.roomEmits[0].payload, "direct")
}

func TestHubNormalPrioritySkipsDirectDelivery(t *testing.T) {
	transport := &recordingTransport{}
	registry := NewRegistry()
	registry.Join("class-1", "student-1", &fakeConn{id: "conn-1"})
	hub := NewHub(transport, registry, nil, zap.NewNop())

	hub.Emit("class-1", EventAttendanceUpdate, nil, PriorityNormal)
	assert.Empty(t, transport.connEmits)
}

func TestHubSwallowsTransportFailures(t *testing.T) {
	transport := &recordingTransport{roomErr: errors.New("room down"), connErr: errors.New("conn down")}
	registry := NewRegistry()
	registry.Join("class-1", "student-1", &fakeConn{id: "conn-1"})
	hub := NewHub(transport, registry, nil, zap.NewNop())

	id := hub.Emit("class-1", EventSessionEnded, nil, PriorityHigh)
	assert.NotEmpty(t, id)
}

func TestChannelTransportRoomFanOut(t *testing.T) {
	transport := NewChannelTransport()
	a := &fakeConn{id: "conn-a"}
	b := &fakeConn{id: "conn-b"}
	transport.JoinRoom("class:class-1", a)
	transport.JoinRoom("class:class-1", b)
	transport.JoinRoom("class:class-2", &fakeConn{id: "conn-c"})

	err := transport.EmitToRoom("class:class-1", "ping", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.Len(t, a.events(), 1)
	assert.Len(t, b.events(), 1)

	transport.LeaveRoom("class:class-1", a)
	require.NoError(t, transport.EmitToRoom("class:class-1", "ping", nil))
	assert.Len(t, a.events(), 1)
	assert.Len(t, b.events(), 2)
}

func TestChannelTransportDropConnLeavesAllRooms(t *testing.T) {
	transport := NewChannelTransport()
	conn := &fakeConn{id: "conn-a"}
	transport.JoinRoom("class:class-1", conn)
	transport.JoinRoom("class:class-2", conn)

	transport.DropConn(conn)

	require.NoError(t, transport.EmitToRoom("class:class-1", "ping", nil))
	require.NoError(t, transport.EmitToRoom("class:class-2", "ping", nil))
	assert.Empty(t, conn.events())
}

func TestChannelTransportReportsFirstSendError(t *testing.T) {
	transport := NewChannelTransport()
	bad := &fakeConn{id: "conn-bad", sendErr: errors.New("buffer full")}
	good := &fakeConn{id: "conn-good"}
	transport.JoinRoom("class:class-1", bad)
	transport.JoinRoom("class:class-1", good)

	err := transport.EmitToRoom("class:class-1", "ping", nil)
	assert.Error(t, err)
	assert.Len(t, good.events(), 1)
}
