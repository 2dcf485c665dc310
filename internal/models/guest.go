package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a participant's role within a room.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// CanControl reports whether the role is allowed to issue playback
// control messages and act on viewer requests.
func (r Role) CanControl() bool {
	return r == RoleModerator || r == RoleAdmin
}

// JoinStatus is a guest's position in the join lifecycle.
type JoinStatus string

const (
	JoinPending  JoinStatus = "pending"
	JoinAccepted JoinStatus = "accepted"
	JoinRejected JoinStatus = "rejected"
)

// Permissions are the per-guest capability flags. Moderators always have
// both set; the moderation service enforces that invariant on every write.
type Permissions struct {
	CanChat  bool `json:"can_chat"`
	CanVoice bool `json:"can_voice"`
}

// PermissionPatch is a partial permissions update. Nil fields are left
// unchanged.
type PermissionPatch struct {
	CanChat  *bool `json:"can_chat,omitempty"`
	CanVoice *bool `json:"can_voice,omitempty"`
}

// Guest represents a room participant identified by an ephemeral session
// credential. Guests are never hard-deleted while the room lives; kicked
// or rejected guests simply become unreachable.
type Guest struct {
	ID           uuid.UUID   `json:"id"`
	RoomID       uuid.UUID   `json:"room_id"`
	Username     string      `json:"username"`
	SessionToken string      `json:"-"`
	Fingerprint  string      `json:"-"`
	IPAddress    string      `json:"-"`
	Role         Role        `json:"role"`
	Permissions  Permissions `json:"permissions"`
	JoinStatus   JoinStatus  `json:"join_status"`
	Kicked       bool        `json:"kicked"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Identity is the normalized authenticated caller: admins and guests are
// resolved into this triple once at authentication time so core components
// never branch on account type.
type Identity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// Admin is the durable operator account.
type Admin struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
