// Package abuse tracks banned identifiers and suspicious device
// fingerprints. Bans are room-scoped: a kicked guest is blocked until the
// room's scheduled end, not forever.
package abuse

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/store"
)

// Identifier kinds accepted by the tracker.
const (
	KindIP          = "ip"
	KindFingerprint = "fp"
)

// Tracker records bans and abuse signals in Redis.
type Tracker struct {
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(redis *store.RedisStore, logger zerolog.Logger) *Tracker {
	return &Tracker{redis: redis, logger: logger}
}

// BanIdentifier blocks an IP or fingerprint for a room. Errors propagate:
// a ban that silently fails is worse than a visible one.
func (t *Tracker) BanIdentifier(ctx context.Context, roomID, kind, value string, ttl time.Duration) error {
	if err := t.redis.SetBan(ctx, kind, roomID, value, ttl); err != nil {
		return err
	}
	t.logger.Info().
		Str("room", roomID).
		Str("kind", kind).
		Dur("ttl", ttl).
		Msg("identifier banned")
	return nil
}

// IsBanned reports whether an identifier is currently blocked for a room.
// A Redis failure fails open with a warning: join moderation still gates
// entry behind a human.
func (t *Tracker) IsBanned(ctx context.Context, roomID, kind, value string) bool {
	banned, err := t.redis.IsBanned(ctx, kind, roomID, value)
	if err != nil {
		t.logger.Warn().Str("kind", kind).Err(err).Msg("ban check failed")
		return false
	}
	return banned
}

// TrackFingerprint associates a join attempt's IP with its device
// fingerprint and returns how many distinct IPs that fingerprint has been
// seen from. More than one is treated as suspicious by the join flow.
func (t *Tracker) TrackFingerprint(ctx context.Context, roomID, fingerprint, ip string, ttl time.Duration) (int64, error) {
	return t.redis.AddFingerprintIP(ctx, roomID, fingerprint, ip, ttl)
}

// LogEvent appends to the per-IP event log. Best-effort.
func (t *Tracker) LogEvent(ctx context.Context, ip, event string) {
	if ip == "" {
		return
	}
	if err := t.redis.LogIPEvent(ctx, ip, event); err != nil {
		t.logger.Warn().Str("ip", ip).Err(err).Msg("ip event log failed")
	}
}
