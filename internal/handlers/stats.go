package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Uptime         string  `json:"uptime"`
	ActiveRoom     *string `json:"active_room"`
	AcceptedGuests int64   `json:"accepted_guests"`
	OnlineGuests   int     `json:"online_guests"`
	PendingGuests  int     `json:"pending_guests"`
}

// Stats returns operator-facing counters for the admin dashboard.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := StatsResponse{
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	}

	room, err := h.db.GetActiveRoom(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if room != nil {
		id := room.ID.String()
		resp.ActiveRoom = &id

		accepted, err := h.db.CountActiveGuests(ctx, room.ID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		resp.AcceptedGuests = accepted
		resp.OnlineGuests = h.registry.CountOnline(id)

		pending, err := h.db.ListPendingGuests(ctx, room.ID, 100)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		resp.PendingGuests = len(pending)
	}

	h.JSON(w, http.StatusOK, resp)
}
