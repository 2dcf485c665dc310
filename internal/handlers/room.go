package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/models"
	"github.com/parhamf6/Echo-Frame/internal/store"
)

// CreateRoom opens a new watch room. Only one room may be active at a
// time; a second create returns 409 with the existing room.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil || identity.Role != models.RoleAdmin {
		h.Error(w, http.StatusForbidden, "admin access required")
		return
	}

	room, err := h.db.CreateRoom(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrActiveRoomExists) {
			existing, lookupErr := h.db.GetActiveRoom(r.Context())
			if lookupErr == nil && existing != nil {
				h.JSON(w, http.StatusConflict, map[string]interface{}{
					"error": "a room is already active",
					"room":  existing,
				})
				return
			}
		}
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.logger.Info().Str("room_id", room.ID.String()).Msg("room created")
	h.JSON(w, http.StatusCreated, room)
}

// ActiveRoom returns the currently active room, if any. Public so the
// join page can tell whether there is anything to join.
func (h *Handler) ActiveRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.db.GetActiveRoom(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "no active room")
		return
	}

	h.JSON(w, http.StatusOK, room)
}

// RoomStatus returns a room with its live participant counts.
func (h *Handler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	room, err := h.db.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	accepted, err := h.db.CountActiveGuests(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room":            room,
		"accepted_guests": accepted,
		"online_guests":   h.registry.CountOnline(roomID.String()),
	})
}

// EndRoom closes a room: marks it ended in the database, tears down
// playback state, and disconnects everyone with a room_closed event.
func (h *Handler) EndRoom(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil || identity.Role != models.RoleAdmin {
		h.Error(w, http.StatusForbidden, "admin access required")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	room, err := h.db.CloseRoom(r.Context(), roomID, time.Now())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to close room")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	// Order matters: playback teardown broadcasts room_closed before the
	// registry closes the connections.
	h.reconciler.CloseRoom(r.Context(), roomID.String())
	h.registry.CloseRoom(roomID.String())

	h.logger.Info().Str("room_id", roomID.String()).Msg("room closed")
	h.JSON(w, http.StatusOK, room)
}

// PlaybackState returns the current playback state for late joiners and
// page reloads.
func (h *Handler) PlaybackState(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	state, err := h.reconciler.State(r.Context(), roomID.String())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load playback state")
		return
	}
	if state == nil {
		h.JSON(w, http.StatusOK, map[string]interface{}{"state": nil})
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

// PendingRequests returns the live viewer-request queue for a room.
func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil || !identity.Role.CanControl() {
		h.Error(w, http.StatusForbidden, "not allowed")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"requests": h.queue.Pending(roomID.String()),
	})
}
