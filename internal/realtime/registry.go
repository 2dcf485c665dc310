package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/metrics"
	"github.com/parhamf6/Echo-Frame/internal/models"
)

// member identifies which (room, guest) owns a connection.
type member struct {
	roomID  string
	guestID string
}

// Presence describes a guest's connectivity in a room. A guest is in
// exactly one of: absent, online, or offline-since-T. Records offline for
// longer than the TTL are stale and eligible for purging.
type Presence struct {
	Online       bool       `json:"online"`
	OfflineSince *time.Time `json:"offline_since,omitempty"`
	Stale        bool       `json:"stale"`
}

// Registry is the in-memory map of room -> guest -> connection handle.
// It is the only structure mutated from multiple transport callbacks
// concurrently; every other component reads and writes through its
// serialized entry points. Sends to guests that are not connected are
// silent no-ops: the client gets authoritative state on its next
// reconnect hydration.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Connection // roomID -> guestID -> connection
	conns   map[string]member                 // connection ID -> owner
	offline map[string]map[string]time.Time   // roomID -> guestID -> went offline at
	roles   map[string]map[string]roleEntry   // roomID -> guestID -> last-known role

	presenceTTL time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

type roleEntry struct {
	role     models.Role
	name     string
	perms    models.Permissions
	hasPerms bool
}

// NewRegistry constructs an initialized Registry.
func NewRegistry(presenceTTL time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]*Connection),
		conns:       make(map[string]member),
		offline:     make(map[string]map[string]time.Time),
		roles:       make(map[string]map[string]roleEntry),
		presenceTTL: presenceTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// Announce registers the guest as online in the room. Idempotent per
// connection: a fresh connect from the same guest replaces and closes the
// old handle. Other online guests receive guest_joined.
func (r *Registry) Announce(roomID, guestID string, conn *Connection, role models.Role, displayName string) {
	var previous *Connection

	r.mu.Lock()
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	if existing := room[guestID]; existing != nil && existing != conn {
		previous = existing
		delete(r.conns, existing.ID)
	}
	room[guestID] = conn
	r.conns[conn.ID] = member{roomID: roomID, guestID: guestID}

	// Back online: drop any offline timestamp.
	if off := r.offline[roomID]; off != nil {
		delete(off, guestID)
	}

	roles := r.roles[roomID]
	if roles == nil {
		roles = make(map[string]roleEntry)
		r.roles[roomID] = roles
	}
	entry := roles[guestID]
	entry.role = role
	entry.name = displayName
	roles[guestID] = entry
	r.mu.Unlock()

	metrics.ConnectionsActive.Inc()

	if previous != nil {
		previous.Close(4001, "session replaced")
		metrics.ConnectionsActive.Dec()
	}

	r.logger.Info().Str("room", roomID).Str("guest", guestID).Msg("guest announced")

	r.Broadcast(roomID, EventGuestJoined, map[string]string{
		"guest_id": guestID,
		"username": displayName,
	}, guestID)
}

// Withdraw removes the connection on disconnect, stamps the guest as
// offline-since-now, and broadcasts guest_left. Returns the owning
// (room, guest) pair, or ok=false if the handle was already replaced.
func (r *Registry) Withdraw(conn *Connection) (roomID, guestID string, ok bool) {
	r.mu.Lock()
	owner, tracked := r.conns[conn.ID]
	if !tracked {
		r.mu.Unlock()
		return "", "", false
	}
	delete(r.conns, conn.ID)

	if room := r.rooms[owner.roomID]; room != nil {
		if room[owner.guestID] == conn {
			delete(room, owner.guestID)
		}
		if len(room) == 0 {
			delete(r.rooms, owner.roomID)
		}
	}

	off := r.offline[owner.roomID]
	if off == nil {
		off = make(map[string]time.Time)
		r.offline[owner.roomID] = off
	}
	off[owner.guestID] = r.now()
	r.mu.Unlock()

	metrics.ConnectionsActive.Dec()

	r.logger.Info().Str("room", owner.roomID).Str("guest", owner.guestID).Msg("guest withdrew")

	r.Broadcast(owner.roomID, EventGuestLeft, map[string]string{
		"guest_id": owner.guestID,
	}, "")

	return owner.roomID, owner.guestID, true
}

// LookupRole returns the last-known role for a guest in a room. Unknown
// guests default to Viewer so elevated actions fail closed.
func (r *Registry) LookupRole(roomID, guestID string) models.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if roles := r.roles[roomID]; roles != nil {
		if entry, ok := roles[guestID]; ok {
			return entry.role
		}
	}
	return models.RoleViewer
}

// SetRole updates the cached role after a moderation change.
func (r *Registry) SetRole(roomID, guestID string, role models.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := r.roles[roomID]
	if roles == nil {
		roles = make(map[string]roleEntry)
		r.roles[roomID] = roles
	}
	entry := roles[guestID]
	entry.role = role
	roles[guestID] = entry
}

// SetPermissions updates the cached permission flags so gates on an open
// socket see grants and revocations without a reconnect.
func (r *Registry) SetPermissions(roomID, guestID string, perms models.Permissions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := r.roles[roomID]
	if roles == nil {
		roles = make(map[string]roleEntry)
		r.roles[roomID] = roles
	}
	entry := roles[guestID]
	entry.perms = perms
	entry.hasPerms = true
	roles[guestID] = entry
}

// LookupPermissions returns the cached permission flags for a guest. ok
// reports whether anything is cached; callers without a cached entry fall
// back to their own snapshot or fail closed.
func (r *Registry) LookupPermissions(roomID, guestID string) (models.Permissions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if roles := r.roles[roomID]; roles != nil {
		if entry, ok := roles[guestID]; ok && entry.hasPerms {
			return entry.perms, true
		}
	}
	return models.Permissions{}, false
}

// Presence reports a guest's connectivity. Never mutates.
func (r *Registry) Presence(roomID, guestID string) Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room := r.rooms[roomID]; room != nil {
		if _, online := room[guestID]; online {
			return Presence{Online: true}
		}
	}

	if off := r.offline[roomID]; off != nil {
		if since, ok := off[guestID]; ok {
			stale := r.now().Sub(since) > r.presenceTTL
			return Presence{OfflineSince: &since, Stale: stale}
		}
	}

	return Presence{}
}

// OnlineGuests returns the guest IDs currently connected to a room.
func (r *Registry) OnlineGuests(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	guests := make([]string, 0, len(room))
	for guestID := range room {
		guests = append(guests, guestID)
	}
	return guests
}

// CountOnline returns the number of connected clients in a room.
func (r *Registry) CountOnline(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// SendTo delivers an event to one guest. A disconnected target is a
// silent no-op, never an error.
func (r *Registry) SendTo(roomID, guestID, event string, payload any) {
	r.mu.RLock()
	var conn *Connection
	if room := r.rooms[roomID]; room != nil {
		conn = room[guestID]
	}
	r.mu.RUnlock()

	if conn == nil {
		return
	}
	if err := conn.SendEvent(event, payload); err != nil {
		r.logger.Debug().Str("guest", guestID).Err(err).Msg("send failed")
	}
}

// Broadcast fans an event out to every connected guest in the room.
// excludeGuest, when non-empty, skips that guest.
func (r *Registry) Broadcast(roomID, event string, payload any, excludeGuest string) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		r.logger.Error().Str("event", event).Err(err).Msg("encode event")
		return
	}

	r.mu.RLock()
	room := r.rooms[roomID]
	conns := make([]*Connection, 0, len(room))
	for guestID, conn := range room {
		if excludeGuest != "" && guestID == excludeGuest {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Send(data)
	}
	metrics.EventsBroadcast.WithLabelValues(event).Inc()
}

// CloseRoom disconnects everyone in a room and drops its presence state.
// The room_closed event must be broadcast by the caller before this.
func (r *Registry) CloseRoom(roomID string) {
	r.mu.Lock()
	room := r.rooms[roomID]
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
		delete(r.conns, conn.ID)
	}
	delete(r.rooms, roomID)
	delete(r.offline, roomID)
	delete(r.roles, roomID)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1000, "room closed")
		metrics.ConnectionsActive.Dec()
	}
}

// PurgeStale drops offline records older than the presence TTL. Called
// periodically; returns the number purged.
func (r *Registry) PurgeStale() int {
	cutoff := r.now().Add(-r.presenceTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for roomID, off := range r.offline {
		for guestID, since := range off {
			if since.Before(cutoff) {
				delete(off, guestID)
				purged++
			}
		}
		if len(off) == 0 {
			delete(r.offline, roomID)
		}
	}
	return purged
}

// RunStaleSweep purges stale offline records on a fixed interval until the
// context is cancelled. A failing iteration never crashes the process.
func (r *Registry) RunStaleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.PurgeStale(); n > 0 {
				r.logger.Debug().Int("purged", n).Msg("stale presence records dropped")
			}
		}
	}
}

// Shutdown terminates all tracked connections and clears registry state.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, m := range r.conns {
		if room := r.rooms[m.roomID]; room != nil {
			if conn := room[m.guestID]; conn != nil {
				conns = append(conns, conn)
			}
		}
	}
	r.rooms = make(map[string]map[string]*Connection)
	r.conns = make(map[string]member)
	r.offline = make(map[string]map[string]time.Time)
	r.roles = make(map[string]map[string]roleEntry)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "server shutdown")
	}
}
