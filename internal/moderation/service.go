// Package moderation implements the guest lifecycle and role/permission
// state machine: pending -> accepted/rejected, kick, and the
// viewer <-> moderator transitions. Every mutation commits to the data
// store before any notification goes out, so a client reacting to a push
// never reads stale state.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/metrics"
	"github.com/parhamf6/Echo-Frame/internal/models"
)

// GuestStore is the slice of the data store the moderation service needs.
type GuestStore interface {
	GetGuest(ctx context.Context, id uuid.UUID) (*models.Guest, error)
	SaveGuest(ctx context.Context, guest *models.Guest) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// Notifier delivers events to room members. Implemented by the realtime
// Registry.
type Notifier interface {
	SendTo(roomID, guestID, event string, payload any)
	Broadcast(roomID, event string, payload any, excludeGuest string)
	SetRole(roomID, guestID string, role models.Role)
	SetPermissions(roomID, guestID string, perms models.Permissions)
}

// AbuseTracker records bans against the external abuse-tracking
// collaborator.
type AbuseTracker interface {
	BanIdentifier(ctx context.Context, roomID, kind, value string, ttl time.Duration) error
	LogEvent(ctx context.Context, ip, event string)
}

// Event names the moderation service emits.
const (
	eventPermissions = "permissions_updated"
	eventRoleUpdated = "role_updated"
	eventGuestKicked = "guest_kicked"
	eventUserList    = "user_list_updated"
)

// Service mutates guest records and fans the changes out.
type Service struct {
	store         GuestStore
	notifier      Notifier
	abuse         AbuseTracker
	defaultBanTTL time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// NewService constructs a moderation Service.
func NewService(store GuestStore, notifier Notifier, abuse AbuseTracker, defaultBanTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:         store,
		notifier:      notifier,
		abuse:         abuse,
		defaultBanTTL: defaultBanTTL,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Service) getGuest(ctx context.Context, guestID uuid.UUID) (*models.Guest, error) {
	guest, err := s.store.GetGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}
	if guest == nil {
		return nil, models.ErrNotFound
	}
	return guest, nil
}

// Accept moves a pending guest to accepted. Permissions start disabled;
// a moderator grants them explicitly.
func (s *Service) Accept(ctx context.Context, actor models.Identity, guestID uuid.UUID) (*models.Guest, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}

	guest.JoinStatus = models.JoinAccepted
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}
	metrics.ModerationActions.WithLabelValues("accept").Inc()

	s.notifier.Broadcast(guest.RoomID.String(), eventUserList, nil, "")
	return guest, nil
}

// Reject declines a pending guest. Terminal for the session; the guest
// may re-join with a new one.
func (s *Service) Reject(ctx context.Context, actor models.Identity, guestID uuid.UUID) (*models.Guest, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}

	guest.JoinStatus = models.JoinRejected
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}
	metrics.ModerationActions.WithLabelValues("reject").Inc()

	s.notifier.Broadcast(guest.RoomID.String(), eventUserList, nil, "")
	return guest, nil
}

// Kick removes an accepted guest for the rest of the room's life and bans
// their IP and device fingerprint until the room's scheduled end (or the
// default TTL when no end is scheduled). Ban write failures are never
// swallowed: the kicked flag stays committed and the caller must retry.
func (s *Service) Kick(ctx context.Context, actor models.Identity, guestID uuid.UUID) (*models.Guest, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}
	if guest.JoinStatus != models.JoinAccepted {
		return nil, fmt.Errorf("%w: only accepted guests can be kicked", models.ErrValidation)
	}

	guest.Kicked = true
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}
	metrics.ModerationActions.WithLabelValues("kick").Inc()

	banTTL := s.banTTL(ctx, guest.RoomID)
	roomID := guest.RoomID.String()
	if err := s.ban(ctx, roomID, guest, banTTL); err != nil {
		s.logger.Error().Str("guest", guestID.String()).Err(err).Msg("ban write failed after kick")
		return nil, err
	}
	s.abuse.LogEvent(ctx, guest.IPAddress, "kicked:"+guestID.String())

	s.notifier.SendTo(roomID, guestID.String(), eventGuestKicked, map[string]string{
		"message": "You were removed from the room",
	})
	s.notifier.Broadcast(roomID, eventUserList, nil, "")
	return guest, nil
}

// banTTL is the time remaining until the room's scheduled end, or the
// default when the room has no end on record.
func (s *Service) banTTL(ctx context.Context, roomID uuid.UUID) time.Duration {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil || room == nil || room.EndedAt == nil {
		return s.defaultBanTTL
	}
	remaining := room.EndedAt.Sub(s.now())
	if remaining <= 0 {
		return s.defaultBanTTL
	}
	return remaining
}

func (s *Service) ban(ctx context.Context, roomID string, guest *models.Guest, ttl time.Duration) error {
	if guest.IPAddress != "" {
		if err := s.abuse.BanIdentifier(ctx, roomID, "ip", guest.IPAddress, ttl); err != nil {
			return err
		}
	}
	if guest.Fingerprint != "" {
		if err := s.abuse.BanIdentifier(ctx, roomID, "fp", guest.Fingerprint, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Promote raises a guest to moderator, which always implies both
// permission flags. Idempotent: after the write the flags are verified and
// corrected if a concurrent permission update raced the promotion.
func (s *Service) Promote(ctx context.Context, actor models.Identity, guestID uuid.UUID) (*models.Guest, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}

	guest.Role = models.RoleModerator
	guest.Permissions = models.Permissions{CanChat: true, CanVoice: true}
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}

	// Re-read and repair: a permission patch racing the promotion could
	// have clobbered the flags between our write and its own.
	guest, err = s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}
	if !guest.Permissions.CanChat || !guest.Permissions.CanVoice {
		guest.Permissions = models.Permissions{CanChat: true, CanVoice: true}
		if err := s.store.SaveGuest(ctx, guest); err != nil {
			return nil, err
		}
	}
	metrics.ModerationActions.WithLabelValues("promote").Inc()

	roomID := guest.RoomID.String()
	s.notifier.SetRole(roomID, guestID.String(), models.RoleModerator)
	s.notifier.SetPermissions(roomID, guestID.String(), guest.Permissions)
	s.notifier.SendTo(roomID, guestID.String(), eventRoleUpdated, map[string]string{
		"role": string(models.RoleModerator),
	})
	s.notifier.SendTo(roomID, guestID.String(), eventPermissions, map[string]any{
		"permissions": guest.Permissions,
	})
	s.notifier.Broadcast(roomID, eventUserList, nil, "")
	return guest, nil
}

// Demote returns a moderator to viewer and resets permissions to the safe
// defaults.
func (s *Service) Demote(ctx context.Context, actor models.Identity, guestID uuid.UUID) (*models.Guest, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}

	guest.Role = models.RoleViewer
	guest.Permissions = models.Permissions{}
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}
	metrics.ModerationActions.WithLabelValues("demote").Inc()

	roomID := guest.RoomID.String()
	s.notifier.SetRole(roomID, guestID.String(), models.RoleViewer)
	s.notifier.SetPermissions(roomID, guestID.String(), guest.Permissions)
	s.notifier.SendTo(roomID, guestID.String(), eventRoleUpdated, map[string]string{
		"role": string(models.RoleViewer),
	})
	s.notifier.SendTo(roomID, guestID.String(), eventPermissions, map[string]any{
		"permissions": guest.Permissions,
	})
	s.notifier.Broadcast(roomID, eventUserList, nil, "")
	return guest, nil
}

// UpdatePermissions merges a partial permissions patch. The moderator
// invariant overrides the patch: a moderator's flags are always true no
// matter what the patch says.
func (s *Service) UpdatePermissions(ctx context.Context, actor models.Identity, guestID uuid.UUID, patch models.PermissionPatch) (*models.Guest, error) {
	if !actor.Role.CanControl() {
		return nil, models.ErrUnauthorized
	}
	guest, err := s.getGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}

	if patch.CanChat != nil {
		guest.Permissions.CanChat = *patch.CanChat
	}
	if patch.CanVoice != nil {
		guest.Permissions.CanVoice = *patch.CanVoice
	}
	if guest.Role == models.RoleModerator {
		guest.Permissions = models.Permissions{CanChat: true, CanVoice: true}
	}

	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return nil, err
	}
	metrics.ModerationActions.WithLabelValues("permissions").Inc()

	roomID := guest.RoomID.String()
	s.notifier.SetPermissions(roomID, guestID.String(), guest.Permissions)
	s.notifier.SendTo(roomID, guestID.String(), eventPermissions, map[string]any{
		"permissions": guest.Permissions,
	})
	s.notifier.Broadcast(roomID, eventUserList, nil, "")
	return guest, nil
}
