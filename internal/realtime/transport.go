package realtime

import (
	"sync"
)

// Priority of a broadcast event. High-priority events are additionally
// direct-delivered to every known member connection.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Conn is one live transport endpoint.
type Conn interface {
	ID() string
	Send(event string, payload map[string]interface{}) error
}

// Transport is the capability surface the hub and registry rely on, so the
// broadcast layer stays independent of the concrete websocket machinery.
type Transport interface {
	JoinRoom(room string, conn Conn)
	LeaveRoom(room string, conn Conn)
	// DropConn removes the connection from every room it joined.
	DropConn(conn Conn)
	EmitToRoom(room, event string, payload map[string]interface{}) error
	EmitToConn(conn Conn, event string, payload map[string]interface{}) error
}

// ChannelTransport is an in-process Transport that fans out to joined
// connections. The websocket layer feeds it gorilla-backed connections; tests
// feed it fakes.
type ChannelTransport struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

// NewChannelTransport constructs an empty transport.
func NewChannelTransport() *ChannelTransport {
	return &ChannelTransport{rooms: make(map[string]map[string]Conn)}
}

// JoinRoom adds the connection to a room. Joining twice is a no-op.
func (t *ChannelTransport) JoinRoom(room string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		t.rooms[room] = members
	}
	members[conn.ID()] = conn
}

// LeaveRoom removes the connection from a room. Leaving a room the
// connection never joined is a no-op.
func (t *ChannelTransport) LeaveRoom(room string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.rooms[room]; ok {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
}

// DropConn removes the connection from every room.
func (t *ChannelTransport) DropConn(conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for room, members := range t.rooms {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
}

// EmitToRoom sends the event to every connection currently in the room.
// Individual send failures do not stop the fan-out; the first error is
// returned for logging.
func (t *ChannelTransport) EmitToRoom(room, event string, payload map[string]interface{}) error {
	t.mu.RLock()
	conns := make([]Conn, 0, len(t.rooms[room]))
	for _, conn := range t.rooms[room] {
		conns = append(conns, conn)
	}
	t.mu.RUnlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Send(event, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EmitToConn sends the event to a single connection.
func (t *ChannelTransport) EmitToConn(conn Conn, event string, payload map[string]interface{}) error {
	return conn.Send(event, payload)
}
