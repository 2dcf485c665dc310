package realtime

import "encoding/json"

// Event names emitted to clients. Payloads are small JSON objects carrying
// the relevant data-model fields.
const (
	EventConnected       = "connected"
	EventGuestJoined     = "guest_joined"
	EventGuestLeft       = "guest_left"
	EventPlaybackState   = "playback_state"
	EventPlaybackSwitch  = "playback_switched"
	EventPermissions     = "permissions_updated"
	EventRoleUpdated     = "role_updated"
	EventGuestKicked     = "guest_kicked"
	EventUserListUpdated = "user_list_updated"
	EventNewJoinRequest  = "new_join_request"
	EventViewerRequest   = "viewer_request"
	EventRequestApproved = "request_approved"
	EventRequestDismiss  = "request_dismissed"
	EventRoomClosed      = "room_closed"
	EventChatMessage     = "chat_message"
	EventReactionUpdated = "reaction_updated"
	EventError           = "error"
)

// Client-initiated event names.
const (
	ClientJoinRoom          = "join_room"
	ClientLeaveRoom         = "leave_room"
	ClientPlaybackUpdate    = "playback:update"
	ClientPlaybackHeartbeat = "playback:heartbeat"
	ClientChatMessage       = "chat:message"
	ClientChatReaction      = "chat:reaction"
	ClientRequestSubmit     = "request:submit"
	ClientRequestApprove    = "request:approve"
	ClientRequestDismiss    = "request:dismiss"
)

// envelope is the wire format for both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent marshals an outbound event. Marshal errors are impossible for
// the payload types used here, but the error is surfaced for callers that
// pass arbitrary data.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}
