package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parhamf6/Echo-Frame/internal/abuse"
	mw "github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/models"
	"github.com/parhamf6/Echo-Frame/internal/realtime"
)

// JoinRequest represents the guest join request body.
type JoinRequest struct {
	Username    string `json:"username"`
	Fingerprint string `json:"fingerprint"`
}

// JoinResponse represents a successful join submission. The guest is
// pending until a moderator accepts them.
type JoinResponse struct {
	GuestID      string            `json:"guest_id"`
	RoomID       string            `json:"room_id"`
	SessionToken string            `json:"session_token"`
	JoinStatus   models.JoinStatus `json:"join_status"`
}

// Join handles a guest's request to enter the active room.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := sanitizeName(req.Username)
	if username == "" {
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.Fingerprint == "" {
		h.Error(w, http.StatusBadRequest, "fingerprint is required")
		return
	}

	room, err := h.db.GetActiveRoom(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "no active room")
		return
	}

	ip := mw.RealIP(r)
	roomID := room.ID.String()

	if h.abuse.IsBanned(r.Context(), roomID, abuse.KindIP, ip) ||
		h.abuse.IsBanned(r.Context(), roomID, abuse.KindFingerprint, req.Fingerprint) {
		h.abuse.LogEvent(r.Context(), ip, "join_rejected:banned")
		h.Error(w, http.StatusForbidden, "you are not allowed to join this room")
		return
	}

	// A fingerprint arriving from more than one IP inside the session
	// window is treated as credential sharing and auto-rejected.
	ipCount, err := h.abuse.TrackFingerprint(r.Context(), roomID, req.Fingerprint, ip, h.cfg.SessionTTL)
	if err != nil {
		h.logger.Warn().Err(err).Msg("fingerprint tracking unavailable")
	} else if ipCount > 1 {
		_ = h.abuse.BanIdentifier(r.Context(), roomID, abuse.KindFingerprint, req.Fingerprint, h.cfg.DefaultBanTTL)
		h.abuse.LogEvent(r.Context(), ip, "join_rejected:fingerprint_reuse")
		h.Error(w, http.StatusForbidden, "you are not allowed to join this room")
		return
	}

	guest := &models.Guest{
		ID:           uuid.New(),
		RoomID:       room.ID,
		Username:     username,
		SessionToken: uuid.New().String(),
		Fingerprint:  req.Fingerprint,
		IPAddress:    ip,
		Role:         models.RoleViewer,
		JoinStatus:   models.JoinPending,
	}

	if err := h.db.CreateGuest(r.Context(), guest); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create guest")
		return
	}

	if err := h.redis.SaveSession(r.Context(), guest.SessionToken, guest.ID.String(), guest.Fingerprint, ip); err != nil {
		h.logger.Warn().Err(err).Msg("session cache write failed, auth will fall back to token lookup")
	}

	h.abuse.LogEvent(r.Context(), ip, "join_requested:"+guest.ID.String())

	h.registry.Broadcast(roomID, realtime.EventNewJoinRequest, map[string]string{
		"guest_id": guest.ID.String(),
		"username": guest.Username,
	}, "")

	h.JSON(w, http.StatusCreated, JoinResponse{
		GuestID:      guest.ID.String(),
		RoomID:       roomID,
		SessionToken: guest.SessionToken,
		JoinStatus:   guest.JoinStatus,
	})
}

// JoinStatus reports the calling guest's own join state. Clients poll this
// while waiting on the pending screen.
func (h *Handler) JoinStatus(w http.ResponseWriter, r *http.Request) {
	guest := mw.GetGuestFromContext(r.Context())
	if guest == nil {
		h.Error(w, http.StatusNotFound, "not a guest session")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"guest_id":    guest.ID.String(),
		"join_status": guest.JoinStatus,
		"role":        guest.Role,
		"permissions": guest.Permissions,
	})
}

// ListPending returns guests waiting for approval in a room.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil || !identity.Role.CanControl() {
		h.Error(w, http.StatusForbidden, "not allowed")
		return
	}

	guests, err := h.db.ListPendingGuests(r.Context(), roomID, 100)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"pending": guests})
}

// ListGuests returns all guests of a room together with live presence.
func (h *Handler) ListGuests(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	guests, err := h.db.ListRoomGuests(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	type guestView struct {
		models.Guest
		Online bool `json:"online"`
	}

	views := make([]guestView, 0, len(guests))
	for _, g := range guests {
		p := h.registry.Presence(roomID.String(), g.ID.String())
		views = append(views, guestView{Guest: g, Online: p.Online})
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"guests": views})
}

// guestAction resolves the common parts of a moderation endpoint: the
// acting identity and the target guest ID from the URL.
func (h *Handler) guestAction(w http.ResponseWriter, r *http.Request) (models.Identity, uuid.UUID, bool) {
	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return models.Identity{}, uuid.Nil, false
	}

	guestID, err := uuid.Parse(chi.URLParam(r, "guestID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid guest ID")
		return models.Identity{}, uuid.Nil, false
	}

	return *identity, guestID, true
}

// AcceptGuest approves a pending join request.
func (h *Handler) AcceptGuest(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	guest, err := h.moderation.Accept(r.Context(), actor, guestID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}

// RejectGuest declines a pending join request.
func (h *Handler) RejectGuest(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	guest, err := h.moderation.Reject(r.Context(), actor, guestID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}

// KickGuest removes an accepted guest and bans their IP and fingerprint
// for the remainder of the room.
func (h *Handler) KickGuest(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	guest, err := h.moderation.Kick(r.Context(), actor, guestID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}

// PromoteGuest elevates a guest to moderator. Admin only.
func (h *Handler) PromoteGuest(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	guest, err := h.moderation.Promote(r.Context(), actor, guestID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}

// DemoteGuest returns a moderator to viewer. Admin only.
func (h *Handler) DemoteGuest(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	guest, err := h.moderation.Demote(r.Context(), actor, guestID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}

// UpdateGuestPermissions applies a partial permissions update.
func (h *Handler) UpdateGuestPermissions(w http.ResponseWriter, r *http.Request) {
	actor, guestID, ok := h.guestAction(w, r)
	if !ok {
		return
	}

	var patch models.PermissionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	guest, err := h.moderation.UpdatePermissions(r.Context(), actor, guestID, patch)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, guest)
}
