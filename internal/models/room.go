package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents the single live watch-party session. At most one room
// has IsActive set at any time.
type Room struct {
	ID        uuid.UUID  `json:"id"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
