package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	mw "github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/metrics"
	"github.com/parhamf6/Echo-Frame/internal/models"
	"github.com/parhamf6/Echo-Frame/internal/realtime"
	"github.com/parhamf6/Echo-Frame/internal/requests"
)

const (
	readWait       = 60 * time.Second
	maxMessageSize = 8 * 1024

	// maxChatRunes bounds chat text in characters, not bytes, so a
	// multi-byte rune is never split.
	maxChatRunes = 2000
)

// validateChatText enforces the 1-2000 character bound on chat messages.
// An over-long message is rejected outright, never truncated.
func validateChatText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: message text is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		return fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, maxChatRunes)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via session token, not origin.
		return true
	},
}

// clientEnvelope is the inbound wire format.
type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// socketSession tracks one websocket's state across the read loop.
type socketSession struct {
	h        *Handler
	conn     *realtime.Connection
	identity models.Identity
	guest    *models.Guest
	roomID   string
}

// Socket upgrades an authenticated request to a websocket and runs its
// read loop until the client disconnects.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	guest := mw.GetGuestFromContext(r.Context())
	if identity.Role != models.RoleAdmin {
		if guest == nil || guest.JoinStatus != models.JoinAccepted {
			h.Error(w, http.StatusForbidden, "join request not accepted")
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(ws)
	conn.Start()

	sess := &socketSession{h: h, conn: conn, identity: *identity, guest: guest}
	_ = conn.SendEvent(realtime.EventConnected, map[string]string{"sid": conn.ID})

	go sess.readLoop()
}

func (s *socketSession) readLoop() {
	defer func() {
		if roomID, guestID, ok := s.h.registry.Withdraw(s.conn); ok {
			s.h.logger.Debug().
				Str("room_id", roomID).
				Str("guest_id", guestID).
				Msg("client disconnected")
		}
		s.conn.Close(websocket.CloseNormalClosure, "")
	}()

	ws := s.conn.WS()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.sendError("malformed event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.dispatch(ctx, env)
		cancel()
	}
}

// actor returns the caller's identity with the live role from the registry
// so promotions and demotions take effect without a reconnect.
func (s *socketSession) actor() models.Identity {
	id := s.identity
	if s.roomID != "" && id.Role != models.RoleAdmin {
		id.Role = s.h.registry.LookupRole(s.roomID, id.ID)
	}
	return id
}

// canChat reads the guest's permission flags from the registry's live
// cache so a grant or revocation applies without a reconnect. Falls back
// to the flags captured at upgrade when nothing is cached yet.
func (s *socketSession) canChat() bool {
	if s.identity.Role == models.RoleAdmin {
		return true
	}
	if perms, ok := s.h.registry.LookupPermissions(s.roomID, s.identity.ID); ok {
		return perms.CanChat
	}
	return s.guest != nil && s.guest.Permissions.CanChat
}

func (s *socketSession) sendError(message string) {
	_ = s.conn.SendEvent(realtime.EventError, map[string]string{"message": message})
}

func (s *socketSession) dispatch(ctx context.Context, env clientEnvelope) {
	switch env.Event {
	case realtime.ClientJoinRoom:
		s.handleJoinRoom(ctx, env.Data)
	case realtime.ClientLeaveRoom:
		s.h.registry.Withdraw(s.conn)
		s.roomID = ""
	case realtime.ClientPlaybackUpdate:
		s.handlePlaybackUpdate(ctx, env.Data)
	case realtime.ClientPlaybackHeartbeat:
		s.handleHeartbeat(ctx, env.Data)
	case realtime.ClientChatMessage:
		s.handleChatMessage(ctx, env.Data)
	case realtime.ClientChatReaction:
		s.handleChatReaction(ctx, env.Data)
	case realtime.ClientRequestSubmit:
		s.handleRequestSubmit(ctx, env.Data)
	case realtime.ClientRequestApprove:
		s.handleRequestDecision(ctx, env.Data, true)
	case realtime.ClientRequestDismiss:
		s.handleRequestDecision(ctx, env.Data, false)
	default:
		s.sendError("unknown event: " + env.Event)
	}
}

func (s *socketSession) handleJoinRoom(ctx context.Context, data json.RawMessage) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		s.sendError("room_id is required")
		return
	}

	// Guests may only join the room they were admitted to.
	if s.guest != nil && s.guest.RoomID.String() != req.RoomID {
		s.sendError("not a member of this room")
		return
	}

	s.roomID = req.RoomID
	s.h.registry.Announce(req.RoomID, s.identity.ID, s.conn, s.identity.Role, s.identity.DisplayName)
	if s.guest != nil {
		s.h.registry.SetPermissions(req.RoomID, s.identity.ID, s.guest.Permissions)
	}

	// Hydrate the new arrival so they render the current moment instead
	// of a blank player.
	if state, err := s.h.reconciler.State(ctx, req.RoomID); err == nil && state != nil {
		_ = s.conn.SendEvent(realtime.EventPlaybackState, state)
	}
	_ = s.conn.SendEvent(realtime.EventUserListUpdated, map[string]interface{}{
		"online": s.h.registry.OnlineGuests(req.RoomID),
	})
	if s.actor().Role.CanControl() {
		if pending := s.h.queue.Pending(req.RoomID); len(pending) > 0 {
			_ = s.conn.SendEvent(realtime.EventViewerRequest, map[string]interface{}{
				"pending": pending,
			})
		}
	}
}

func (s *socketSession) handlePlaybackUpdate(ctx context.Context, data json.RawMessage) {
	if s.roomID == "" {
		s.sendError("join a room first")
		return
	}

	var upd models.PlaybackUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		s.sendError("malformed playback update")
		return
	}

	prev, _ := s.h.reconciler.CurrentPosition(s.roomID)
	prevState, _ := s.h.reconciler.State(ctx, s.roomID)

	state, err := s.h.reconciler.Apply(ctx, s.roomID, s.actor(), upd)
	if err != nil {
		s.sendError("not allowed to control playback")
		return
	}
	if state == nil {
		return // suppressed, nothing to do
	}

	// A direct moderator action satisfies any pending request of the
	// same kind.
	if prevState != nil {
		if prevState.IsPlaying && !state.IsPlaying {
			s.h.queue.DismissMatching(s.roomID, models.RequestPause)
		}
		if state.MediaID == prevState.MediaID && state.Position < prev {
			s.h.queue.DismissMatching(s.roomID, models.RequestRewind)
		}
	}
}

func (s *socketSession) handleHeartbeat(ctx context.Context, data json.RawMessage) {
	if s.roomID == "" {
		return
	}

	var req struct {
		Position float64 `json:"current_timestamp"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if _, err := s.h.reconciler.Heartbeat(ctx, s.roomID, s.actor(), req.Position); err != nil {
		s.sendError("not allowed to control playback")
	}
}

func (s *socketSession) handleChatMessage(ctx context.Context, data json.RawMessage) {
	if s.roomID == "" {
		s.sendError("join a room first")
		return
	}
	if !s.canChat() {
		s.sendError("chat is disabled for you")
		return
	}

	var req struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		ReplyToID string `json:"reply_to_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("message text is required")
		return
	}
	if err := validateChatText(req.Message); err != nil {
		s.sendError(err.Error())
		return
	}
	if req.ID == "" {
		req.ID = "msg_" + ulid.Make().String()
	}

	msg := &models.Message{
		ID:        req.ID,
		RoomID:    s.roomID,
		AuthorID:  s.identity.ID,
		Username:  s.identity.DisplayName,
		Text:      req.Message,
		ReplyToID: req.ReplyToID,
		Timestamp: time.Now().UnixMilli(),
	}

	stored, created, err := s.h.redis.AddMessage(ctx, msg)
	if err != nil {
		s.sendError("failed to post message")
		return
	}
	if !created {
		return // duplicate delivery, already broadcast
	}

	metrics.MessagesPosted.Inc()
	s.h.registry.Broadcast(s.roomID, realtime.EventChatMessage, stored, "")
}

func (s *socketSession) handleChatReaction(ctx context.Context, data json.RawMessage) {
	if s.roomID == "" {
		s.sendError("join a room first")
		return
	}

	var req struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
		Remove    bool   `json:"remove"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == "" || req.Emoji == "" {
		s.sendError("message_id and emoji are required")
		return
	}

	exists, err := s.h.redis.HasMessage(ctx, s.roomID, req.MessageID)
	if err != nil || !exists {
		s.sendError("message not found")
		return
	}

	var changed bool
	if req.Remove {
		changed, err = s.h.redis.RemoveReaction(ctx, s.roomID, req.MessageID, req.Emoji, s.identity.ID)
	} else {
		changed, err = s.h.redis.AddReaction(ctx, s.roomID, req.MessageID, req.Emoji, s.identity.ID)
	}
	if err != nil {
		s.sendError("failed to update reaction")
		return
	}
	if !changed {
		return
	}

	reactions, err := s.h.redis.GetReactions(ctx, s.roomID, req.MessageID)
	if err != nil {
		return
	}

	s.h.registry.Broadcast(s.roomID, realtime.EventReactionUpdated, map[string]interface{}{
		"message_id": req.MessageID,
		"reactions":  reactions,
	}, "")
}

func (s *socketSession) handleRequestSubmit(ctx context.Context, data json.RawMessage) {
	if s.roomID == "" {
		s.sendError("join a room first")
		return
	}

	var req struct {
		Type          models.RequestType `json:"type"`
		RewindSeconds float64            `json:"rewind_seconds"`
		Message       string             `json:"message"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("malformed request")
		return
	}

	submitted, err := s.h.queue.Submit(ctx, s.roomID, s.actor(), req.Type, requests.SubmitParams{
		RewindSeconds: req.RewindSeconds,
		Message:       req.Message,
	})
	if err != nil {
		s.sendError("invalid request")
		return
	}

	// Echo back as confirmation; moderators got it via broadcast.
	_ = s.conn.SendEvent(realtime.EventViewerRequest, submitted)
}

func (s *socketSession) handleRequestDecision(ctx context.Context, data json.RawMessage, approve bool) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RequestID == "" {
		s.sendError("request_id is required")
		return
	}

	var err error
	if approve {
		err = s.h.queue.Approve(ctx, req.RequestID, s.actor())
	} else {
		err = s.h.queue.Dismiss(ctx, req.RequestID, s.actor())
	}
	if err != nil {
		s.sendError("could not act on request")
	}
}
