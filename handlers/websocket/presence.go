package websocket

import (
	"sync"
)

// presenceRecord is one identified connection of a user. A user with the app
// open on several devices holds several records.
type presenceRecord struct {
	conn       Conn
	foreground bool
}

// presenceTracker maintains the process-local view of which identities are
// reachable. It is a multimap from identity to connection set, with a reverse
// index so disconnects don't scan the whole online population.
type presenceTracker struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*presenceRecord // user id -> connection id -> record
	byConn map[string]string                     // connection id -> user id
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{
		byUser: make(map[string]map[string]*presenceRecord),
		byConn: make(map[string]string),
	}
}

// Register records the connection as a live session of the user. Idempotent
// per (user, connection) pair. A connection re-identifying as a different
// user drops its previous record first.
func (t *presenceTracker) Register(userID string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	connID := conn.ID()
	if prev, ok := t.byConn[connID]; ok && prev != userID {
		t.removeLocked(prev, connID)
	}

	records, ok := t.byUser[userID]
	if !ok {
		records = make(map[string]*presenceRecord)
		t.byUser[userID] = records
	}
	if _, ok := records[connID]; !ok {
		records[connID] = &presenceRecord{conn: conn}
	}
	t.byConn[connID] = userID
}

// SetForeground toggles the foreground flag on the user's record for the
// given connection. Missing records are a no-op.
func (t *presenceTracker) SetForeground(userID, connID string, foreground bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if record, ok := t.byUser[userID][connID]; ok {
		record.foreground = foreground
	}
}

// IsOnline reports whether the user has at least one live connection.
func (t *presenceTracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser[userID]) > 0
}

// IsActive reports the stricter signal: at least one connection with the app
// in foreground.
func (t *presenceTracker) IsActive(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, record := range t.byUser[userID] {
		if record.foreground {
			return true
		}
	}
	return false
}

// Connections returns a snapshot of the user's live connections.
func (t *presenceTracker) Connections(userID string) []Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]Conn, 0, len(t.byUser[userID]))
	for _, record := range t.byUser[userID] {
		conns = append(conns, record.conn)
	}
	return conns
}

// Unregister drops every record referencing the connection. It returns the
// identity the connection carried and whether that identity has now gone
// fully offline, so the caller can fan out the transition.
func (t *presenceTracker) Unregister(connID string) (userID string, wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userID, ok := t.byConn[connID]
	if !ok {
		return "", false
	}
	t.removeLocked(userID, connID)
	return userID, len(t.byUser[userID]) == 0
}

func (t *presenceTracker) removeLocked(userID, connID string) {
	if records, ok := t.byUser[userID]; ok {
		delete(records, connID)
		if len(records) == 0 {
			delete(t.byUser, userID)
		}
	}
	delete(t.byConn, connID)
}
