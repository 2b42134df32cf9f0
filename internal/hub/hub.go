// Package hub implements the Subscription Manager (C4): room membership for
// client sessions, and fan-out delivery of envelopes to the sessions
// subscribed to a room (spec §4.4). It is deliberately transport-agnostic —
// it knows nothing about WebSocket framing — mirroring the design notes'
// instruction to reimplement callback-based broadcasting as typed
// channels/buses with an explicit delivery boundary. The concrete transport
// (internal/wstransport) implements Session and registers/unregisters it
// here, the same separation the teacher achieves between internal/websocket
// (transport) and its hub's in-memory client map.
package hub

import (
	"sort"
	"sync"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// Session is satisfied by any client transport connection. Send must be
// non-blocking from the hub's perspective: implementations own their own
// bounded outbound queue and drop/disconnect on back-pressure exactly like
// the teacher's Client.send channel (internal/websocket/client.go).
type Session interface {
	ID() string
	Send(env *events.Envelope) bool // false indicates delivery failed/dropped
}

// Manager is the Subscription Manager (C4).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	rooms    map[string]map[string]struct{} // room -> set of session IDs
	joined   map[string]map[string]struct{} // session -> set of rooms
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		sessions: make(map[string]Session),
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Register makes a session known to the hub. It carries no room membership
// until Join is called.
func (m *Manager) Register(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	if _, ok := m.joined[s.ID()]; !ok {
		m.joined[s.ID()] = make(map[string]struct{})
	}
	logging.Named("hub").Info().Str("session_id", s.ID()).Msg("session registered")
}

// Join subscribes a session to a room. Idempotent.
func (m *Manager) Join(sessionID, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	set, ok := m.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		m.rooms[room] = set
	}
	set[sessionID] = struct{}{}
	m.joined[sessionID][room] = struct{}{}
	return true
}

// Leave unsubscribes a session from a room. Idempotent.
func (m *Manager) Leave(sessionID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.rooms[room]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.rooms, room)
		}
	}
	if rooms, ok := m.joined[sessionID]; ok {
		delete(rooms, room)
	}
}

// Rooms lists every room sessionID currently belongs to.
func (m *Manager) Rooms(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms, ok := m.joined[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rooms))
	for r := range rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Members lists every session ID currently in room, in deterministic
// (sorted) order — matching the teacher's broadcastToClients sort-by-id
// determinism rationale (internal/websocket/hub.go).
func (m *Manager) Members(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Unregister drops a session and implicitly leaves every room it belonged
// to, matching the "dropped transports trigger implicit leave" rule of
// spec §4.4.
func (m *Manager) Unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	rooms := m.joined[sessionID]
	for room := range rooms {
		if set, ok := m.rooms[room]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(m.rooms, room)
			}
		}
	}
	delete(m.joined, sessionID)
	logging.Named("hub").Info().Str("session_id", sessionID).Msg("session unregistered")
}

// Deliver sends env to every session currently subscribed to room, in
// deterministic order. Per-session delivery failures are logged but never
// block delivery to other sessions (spec §4.3).
func (m *Manager) Deliver(room string, env *events.Envelope) {
	m.mu.RLock()
	set, ok := m.rooms[room]
	if !ok {
		m.mu.RUnlock()
		return
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if s == nil {
			continue
		}
		if !s.Send(env) {
			logging.Named("hub").Warn().
				Str("session_id", s.ID()).
				Str("room", room).
				Str("event_type", env.EventType).
				Msg("delivery failed, dropping for this session")
		}
	}
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
