package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/core"
	"github.com/wisplabs/wisp/internal/domain"
)

// room holds membership and history for one chat room. Guarded by the
// manager's lock, never accessed directly by adapters.
type room struct {
	members  map[core.ConnID]string
	messages []domain.Message
}

// RoomManager owns the room set: registry, membership, message log and the
// eviction machinery. A single RWMutex covers the map and room contents so
// the read-then-delete sequences in eviction observe a consistent snapshot.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room

	grace time.Duration
	sweep time.Duration
}

func NewRoomManager(grace, sweep time.Duration) *RoomManager {
	return &RoomManager{
		rooms: make(map[domain.RoomID]*room),
		grace: grace,
		sweep: sweep,
	}
}

// CreateRoom inserts a fresh empty room under id. A colliding id silently
// replaces the prior room and orphans its state; callers are expected to
// hand out generated ids.
func (m *RoomManager) CreateRoom(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = &room{members: make(map[core.ConnID]string)}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
}

func (m *RoomManager) RoomExists(id domain.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[id]
	return ok
}

// DeleteRoom removes the room if present. Idempotent so the grace timer and
// the sweeper may race on the same room safely.
func (m *RoomManager) DeleteRoom(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; ok {
		delete(m.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	}
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: len(r.members)})
	}
	return out
}

// AddMember registers conn in the room under supplied, or under a generated
// anonymous identity when supplied is empty. Identities are not checked for
// uniqueness; two connections may share a display name. Returns ok=false
// only when the room does not exist.
func (m *RoomManager) AddMember(id domain.RoomID, conn core.ConnID, supplied string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return "", false
	}
	identity := supplied
	if identity == "" {
		identity = domain.AnonymousIdentity()
	}
	r.members[conn] = identity
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("conn", string(conn)).Str("identity", identity).Msg("member added")
	return identity, true
}

// RemoveMember drops conn from the room. A no-op for unknown rooms or
// connections. When the last member leaves, a grace check is scheduled.
func (m *RoomManager) RemoveMember(id domain.RoomID, conn core.ConnID) (string, bool) {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	identity, ok := r.members[conn]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	delete(r.members, conn)
	empty := len(r.members) == 0
	m.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("conn", string(conn)).Msg("member removed")
	if empty {
		m.scheduleGrace(id)
	}
	return identity, true
}

func (m *RoomManager) MemberIdentity(id domain.RoomID, conn core.ConnID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return "", false
	}
	identity, ok := r.members[conn]
	return identity, ok
}

// Members returns a snapshot of current identities, arbitrary order.
func (m *RoomManager) Members(id domain.RoomID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(r.members))
	for _, identity := range r.members {
		out = append(out, identity)
	}
	return out
}

// MembersSnapshot pairs each member's connection with its identity, for
// fanout and push dispatch.
func (m *RoomManager) MembersSnapshot(id domain.RoomID) []core.MemberRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return []core.MemberRef{}
	}
	out := make([]core.MemberRef, 0, len(r.members))
	for conn, identity := range r.members {
		out = append(out, core.MemberRef{Conn: conn, Identity: identity})
	}
	return out
}

// AppendMessage adds msg to the end of the room's log. History is append-only
// and unbounded; there is no truncation in the current design.
func (m *RoomManager) AppendMessage(id domain.RoomID, msg domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return false
	}
	r.messages = append(r.messages, msg)
	return true
}

// Messages returns the full history in insertion order. The slice is a copy;
// callers may not mutate the log through it.
func (m *RoomManager) Messages(id domain.RoomID) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return []domain.Message{}
	}
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ConnRooms lists every room conn is currently a member of. Disconnect
// cleanup iterates this and removes each membership independently.
func (m *RoomManager) ConnRooms(conn core.ConnID) []domain.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RoomID
	for id, r := range m.rooms {
		if _, ok := r.members[conn]; ok {
			out = append(out, id)
		}
	}
	return out
}
