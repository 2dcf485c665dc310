package models

import "time"

// RequestType classifies viewer-initiated control requests.
type RequestType string

const (
	RequestPause        RequestType = "pause"
	RequestRewind       RequestType = "rewind"
	RequestQuickMessage RequestType = "quick-message"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestPause, RequestRewind, RequestQuickMessage:
		return true
	}
	return false
}

// ViewerRequest is an ephemeral viewer action awaiting moderator approval.
// Requests live in memory only and expire after a short TTL.
type ViewerRequest struct {
	ID            string      `json:"id"`
	Type          RequestType `json:"type"`
	RoomID        string      `json:"room_id"`
	RequesterID   string      `json:"requester_id"`
	RequesterName string      `json:"requester_name"`
	RewindSeconds float64     `json:"rewind_seconds,omitempty"`
	Message       string      `json:"message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
