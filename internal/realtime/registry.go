package realtime

import (
	"sync"
)

// Registry tracks which participants are present in which class room and maps
// participant identity to their live connections. It is transient state,
// rebuilt purely from live connections, and is owned by the broadcast layer.
// All operations are idempotent and safe under concurrent interleaving.
type Registry struct {
	mu sync.RWMutex
	// rooms: classID -> participantID set
	rooms map[string]map[string]struct{}
	// conns: participantID -> connID -> conn
	conns map[string]map[string]Conn
	// owners: connID -> participantID
	owners map[string]string
}

// NewRegistry constructs an empty registry. Registries are injected, never
// global, so tests can run isolated instances.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]struct{}),
		conns:  make(map[string]map[string]Conn),
		owners: make(map[string]string),
	}
}

// Join adds the participant to the class room and registers the connection.
func (r *Registry) Join(classID, participantID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[classID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[classID] = members
	}
	members[participantID] = struct{}{}

	r.register(participantID, conn)
}

// Identify registers a connection for a participant without joining a room.
func (r *Registry) Identify(participantID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(participantID, conn)
}

func (r *Registry) register(participantID string, conn Conn) {
	if conn == nil {
		return
	}
	byID, ok := r.conns[participantID]
	if !ok {
		byID = make(map[string]Conn)
		r.conns[participantID] = byID
	}
	byID[conn.ID()] = conn
	r.owners[conn.ID()] = participantID
}

// Leave removes the participant from one class room. Leaving a room the
// participant is not a member of is a no-op; their connections stay
// registered.
func (r *Registry) Leave(classID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[classID]; ok {
		delete(members, participantID)
		if len(members) == 0 {
			delete(r.rooms, classID)
		}
	}
}

// OnDisconnect drops the connection and, when it was the participant's last
// one, removes the participant from every room — atomically with respect to
// other mutations on the same participant.
func (r *Registry) OnDisconnect(conn Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	participantID, ok := r.owners[conn.ID()]
	if !ok {
		return
	}
	delete(r.owners, conn.ID())

	byID := r.conns[participantID]
	delete(byID, conn.ID())
	if len(byID) > 0 {
		return
	}
	delete(r.conns, participantID)

	for classID, members := range r.rooms {
		delete(members, participantID)
		if len(members) == 0 {
			delete(r.rooms, classID)
		}
	}
}

// MembersOf returns the participants currently joined to the class room.
func (r *Registry) MembersOf(classID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]string, 0, len(r.rooms[classID]))
	for participantID := range r.rooms[classID] {
		members = append(members, participantID)
	}
	return members
}

// Connections returns the live connections of a participant.
func (r *Registry) Connections(participantID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.conns[participantID]))
	for _, conn := range r.conns[participantID] {
		conns = append(conns, conn)
	}
	return conns
}
