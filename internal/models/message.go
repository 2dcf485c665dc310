package models

// Message represents a chat message stored in Redis.
type Message struct {
	ID        string `json:"id"` // ULID unless client-supplied
	RoomID    string `json:"room_id"`
	AuthorID  string `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"message"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// Reactions maps emoji to the set of author IDs that reacted with it.
// Membership, not count, is the stored unit; empty sets are never kept.
type Reactions map[string][]string
