package models

import "time"

// PlaybackState is the canonical per-room playback position. When playing,
// the true position is Position plus wall time elapsed since StartedAt;
// when paused, Position is frozen.
type PlaybackState struct {
	MediaID   string     `json:"media_id"`
	IsPlaying bool       `json:"is_playing"`
	Position  float64    `json:"current_timestamp"` // seconds into the media
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy string     `json:"updated_by,omitempty"` // controlling actor
	StartedAt *time.Time `json:"started_at,omitempty"` // wall clock when playback began
}

// CurrentPosition returns the interpolated position at the given time.
func (s *PlaybackState) CurrentPosition(now time.Time) float64 {
	if !s.IsPlaying || s.StartedAt == nil {
		return s.Position
	}
	return s.Position + now.Sub(*s.StartedAt).Seconds()
}

// PlaybackUpdate is an incoming control message from a client.
type PlaybackUpdate struct {
	MediaID   string  `json:"media_id"`
	IsPlaying bool    `json:"is_playing"`
	Position  float64 `json:"current_timestamp"`
}
