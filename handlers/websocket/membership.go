package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// roomMembership maps a room to the set of live connections subscribed to its
// broadcast channel. The table is transient: it is rebuilt from join events
// and is never consulted for durable facts.
type roomMembership struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn     // room id -> connection id -> conn
	joined map[string]map[string]struct{} // connection id -> room ids
}

func newRoomMembership() *roomMembership {
	return &roomMembership{
		rooms:  make(map[string]map[string]Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join subscribes the connection to the room. No-op if already joined.
func (m *roomMembership) Join(conn Conn, roomID string) {
	if roomID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]Conn)
		m.rooms[roomID] = members
	}
	connID := conn.ID()
	if _, ok := members[connID]; ok {
		return
	}
	members[connID] = conn

	joined, ok := m.joined[connID]
	if !ok {
		joined = make(map[string]struct{})
		m.joined[connID] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave removes the connection from the room. Absence is a no-op.
func (m *roomMembership) Leave(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, roomID)
}

// RemoveConn drops the connection from every room it joined; called on
// disconnect.
func (m *roomMembership) RemoveConn(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomID := range m.joined[connID] {
		m.leaveLocked(connID, roomID)
	}
}

func (m *roomMembership) leaveLocked(connID, roomID string) {
	if members, ok := m.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	if joined, ok := m.joined[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(m.joined, connID)
		}
	}
}

// Contains reports whether the connection is subscribed to the room.
func (m *roomMembership) Contains(roomID, connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.rooms[roomID][connID]
	return ok
}

// Members returns a snapshot of the room's subscription set.
func (m *roomMembership) Members(roomID string) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]Conn, 0, len(m.rooms[roomID]))
	for _, conn := range m.rooms[roomID] {
		members = append(members, conn)
	}
	return members
}

// Counts returns the number of subscribed connections per room.
func (m *roomMembership) Counts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.rooms))
	for roomID, members := range m.rooms {
		counts[roomID] = len(members)
	}
	return counts
}

// Broadcast delivers the event to every connection in the room's subscription
// set, optionally excluding one connection (typing indicators must not echo
// to the sender). Delivery is best effort: a failed emit is logged and the
// rest of the set still receives the event.
func (m *roomMembership) Broadcast(roomID, event, excludeConnID string, args ...any) {
	for _, conn := range m.Members(roomID) {
		if conn.ID() == excludeConnID {
			continue
		}
		if err := conn.Emit(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id":       roomID,
				"connection_id": conn.ID(),
				"event":         event,
				"error":         err,
			}).Debug("Failed to deliver event")
		}
	}
}
