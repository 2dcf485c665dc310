// Package playback holds the per-room playback state and decides which
// incoming updates are worth broadcasting. Edge events (play/pause, media
// switch) are never suppressed; continuous position reports are debounced
// so a heartbeat-driven client cannot flood the room with near-identical
// updates.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/metrics"
	"github.com/parhamf6/Echo-Frame/internal/models"
)

// Notifier fans events out to a room's connected clients. Implemented by
// the realtime Registry. Sends are non-blocking enqueues.
type Notifier interface {
	Broadcast(roomID, event string, payload any, excludeGuest string)
}

// Persister stores canonical playback state for late joiners. Implemented
// by the Redis store.
type Persister interface {
	SavePlaybackState(ctx context.Context, roomID string, state *models.PlaybackState) error
	LoadPlaybackState(ctx context.Context, roomID string) (*models.PlaybackState, error)
	DeletePlaybackState(ctx context.Context, roomID string) error
}

// Event names used by the reconciler; mirrored in the realtime package.
const (
	eventPlaybackState  = "playback_state"
	eventPlaybackSwitch = "playback_switched"
	eventRoomClosed     = "room_closed"
)

// roomState serializes all read-modify-write access to one room's playback
// state and debounce stamp. Different rooms never contend. The room lock
// is never held across a persister call; seq/persistedSeq keep racing
// persists last-writer-wins.
type roomState struct {
	mu            sync.Mutex
	state         *models.PlaybackState
	lastBroadcast time.Time
	lastTouch     time.Time
	seq           uint64

	persistMu    sync.Mutex
	persistedSeq uint64
}

// Reconciler applies playback updates per room and broadcasts the accepted
// ones. All mutations for a room happen under that room's lock, so the
// check-delta-then-write sequence is race-free and broadcast order matches
// acceptance order.
type Reconciler struct {
	tolerance float64       // seconds of position drift worth broadcasting
	debounce  time.Duration // minimum spacing between position broadcasts
	ttl       time.Duration // idle state retention

	notifier  Notifier
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomState
}

// Config carries the reconciler's policy knobs.
type Config struct {
	Tolerance float64
	Debounce  time.Duration
	TTL       time.Duration
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cfg Config, notifier Notifier, persister Persister, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		tolerance: cfg.Tolerance,
		debounce:  cfg.Debounce,
		ttl:       cfg.TTL,
		notifier:  notifier,
		persister: persister,
		logger:    logger,
		now:       time.Now,
		rooms:     make(map[string]*roomState),
	}
}

func (r *Reconciler) room(roomID string) *roomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.rooms[roomID]
	if rs == nil {
		rs = &roomState{}
		r.rooms[roomID] = rs
	}
	return rs
}

// Apply reconciles an incoming control message against the stored state.
// Only moderators and admins may control playback; unauthorized callers get
// an explicit error so their UI can react. Returns the applied state, or
// nil when the update was suppressed.
func (r *Reconciler) Apply(ctx context.Context, roomID string, actor models.Identity, upd models.PlaybackUpdate) (*models.PlaybackState, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	return r.apply(ctx, roomID, actor, upd, false)
}

// ApplyCommand applies a moderator-approved command, bypassing the delta
// and debounce checks: approvals are always broadcast.
func (r *Reconciler) ApplyCommand(ctx context.Context, roomID string, actor models.Identity, upd models.PlaybackUpdate) (*models.PlaybackState, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	return r.apply(ctx, roomID, actor, upd, true)
}

func (r *Reconciler) apply(ctx context.Context, roomID string, actor models.Identity, upd models.PlaybackUpdate, force bool) (*models.PlaybackState, error) {
	rs := r.room(roomID)
	rs.mu.Lock()

	now := r.now()
	rs.lastTouch = now
	stored := rs.state

	event := eventPlaybackState
	var next models.PlaybackState

	switch {
	case stored == nil:
		// First control event for the room: accept as-is.
		next = newState(upd, actor.ID, now)

	case upd.MediaID != stored.MediaID:
		// Media switch: position resets to 0, paused. Never suppressed.
		next = models.PlaybackState{
			MediaID:   upd.MediaID,
			IsPlaying: false,
			Position:  0,
			UpdatedAt: now,
			UpdatedBy: actor.ID,
		}
		event = eventPlaybackSwitch

	case upd.IsPlaying != stored.IsPlaying:
		// Play/pause edge. Never suppressed, even mid-debounce-window.
		next = newState(upd, actor.ID, now)

	default:
		// Position-only change. A suppressed update is not even stored.
		if !force {
			delta := math.Abs(upd.Position - stored.Position)
			if delta < r.tolerance {
				rs.mu.Unlock()
				metrics.PlaybackUpdatesApplied.WithLabelValues("suppressed_delta").Inc()
				return nil, nil
			}
			if now.Sub(rs.lastBroadcast) < r.debounce {
				rs.mu.Unlock()
				metrics.PlaybackUpdatesApplied.WithLabelValues("suppressed_debounce").Inc()
				return nil, nil
			}
		}
		next = newState(upd, actor.ID, now)
	}

	rs.state = &next
	rs.lastBroadcast = now
	rs.seq++
	seq := rs.seq

	// Non-blocking enqueue before releasing the room lock, which keeps
	// broadcast order identical to acceptance order.
	r.notifier.Broadcast(roomID, event, &next, "")
	rs.mu.Unlock()

	metrics.PlaybackUpdatesApplied.WithLabelValues("applied").Inc()

	snap := next
	r.persist(ctx, roomID, rs, seq, &snap)

	out := next
	return &out, nil
}

// Heartbeat handles the low-frequency position report from the controlling
// client. The stored position is corrected only when the reported position
// drifts from the interpolated one by at least the tolerance. Heartbeats
// are rate-limited at the source, so the debounce window does not apply.
func (r *Reconciler) Heartbeat(ctx context.Context, roomID string, actor models.Identity, position float64) (*models.PlaybackState, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}

	rs := r.room(roomID)
	rs.mu.Lock()

	stored := rs.state
	if stored == nil {
		rs.mu.Unlock()
		return nil, nil
	}

	now := r.now()
	interpolated := stored.CurrentPosition(now)
	if math.Abs(position-interpolated) < r.tolerance {
		rs.mu.Unlock()
		metrics.PlaybackUpdatesApplied.WithLabelValues("suppressed_delta").Inc()
		return nil, nil
	}

	next := *stored
	next.Position = position
	next.UpdatedAt = now
	next.UpdatedBy = actor.ID
	if next.IsPlaying {
		started := now
		next.StartedAt = &started
	}

	rs.state = &next
	rs.lastTouch = now
	rs.lastBroadcast = now
	rs.seq++
	seq := rs.seq

	r.notifier.Broadcast(roomID, eventPlaybackState, &next, "")
	rs.mu.Unlock()

	metrics.PlaybackUpdatesApplied.WithLabelValues("applied").Inc()

	snap := next
	r.persist(ctx, roomID, rs, seq, &snap)

	out := next
	return &out, nil
}

// State returns the current playback state for hydrating a late joiner.
// Falls back to the persisted copy when the process has no in-memory state
// for the room.
func (r *Reconciler) State(ctx context.Context, roomID string) (*models.PlaybackState, error) {
	rs := r.room(roomID)
	rs.mu.Lock()
	if rs.state != nil {
		out := *rs.state
		rs.mu.Unlock()
		return &out, nil
	}
	rs.mu.Unlock()

	stored, err := r.persister.LoadPlaybackState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	// An update may have landed while the load was in flight; it wins.
	rs.mu.Lock()
	if rs.state == nil {
		rs.state = stored
		rs.lastTouch = r.now()
	}
	out := *rs.state
	rs.mu.Unlock()
	return &out, nil
}

// CurrentPosition returns the interpolated position for a room, and
// whether any state exists.
func (r *Reconciler) CurrentPosition(roomID string) (float64, bool) {
	rs := r.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state == nil {
		return 0, false
	}
	return rs.state.CurrentPosition(r.now()), true
}

// CloseRoom discards the room's playback state and tells every connection
// the room has ended.
func (r *Reconciler) CloseRoom(ctx context.Context, roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	if err := r.persister.DeletePlaybackState(ctx, roomID); err != nil {
		r.logger.Warn().Str("room", roomID).Err(err).Msg("discard playback state")
	}

	r.notifier.Broadcast(roomID, eventRoomClosed, map[string]string{
		"message": "Room has ended",
	}, "")
}

// Sweep drops in-memory state for rooms idle longer than the TTL.
// The persisted copy expires on its own key TTL.
func (r *Reconciler) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for roomID, rs := range r.rooms {
		rs.mu.Lock()
		idle := rs.lastTouch.Before(cutoff)
		rs.mu.Unlock()
		if idle {
			delete(r.rooms, roomID)
			swept++
		}
	}
	return swept
}

// RunSweep evicts idle room state on a fixed interval until the context is
// cancelled.
func (r *Reconciler) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug().Int("swept", n).Msg("idle playback state evicted")
			}
		}
	}
}

// persist writes the canonical state best-effort after the room lock is
// released: playback sync keeps working from memory if Redis is briefly
// unavailable, and a stalled write never blocks the room's mutation path.
// The sequence check drops a stale write that lost the race to a newer one.
func (r *Reconciler) persist(ctx context.Context, roomID string, rs *roomState, seq uint64, state *models.PlaybackState) {
	rs.persistMu.Lock()
	defer rs.persistMu.Unlock()
	if seq <= rs.persistedSeq {
		return
	}
	if err := r.persister.SavePlaybackState(ctx, roomID, state); err != nil {
		r.logger.Warn().Str("room", roomID).Err(err).Msg("persist playback state")
		return
	}
	rs.persistedSeq = seq
}

func newState(upd models.PlaybackUpdate, actorID string, now time.Time) models.PlaybackState {
	st := models.PlaybackState{
		MediaID:   upd.MediaID,
		IsPlaying: upd.IsPlaying,
		Position:  upd.Position,
		UpdatedAt: now,
		UpdatedBy: actorID,
	}
	if st.IsPlaying {
		started := now
		st.StartedAt = &started
	}
	return st
}
