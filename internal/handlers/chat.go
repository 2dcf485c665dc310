package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ChatHistory returns the retained messages of a room, oldest first, with
// the reaction tallies batched in.
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	messages, err := h.redis.GetMessages(r.Context(), roomID.String(), limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	reactions, err := h.redis.GetAllReactions(r.Context(), roomID.String(), ids)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load reactions")
		reactions = nil
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages":  messages,
		"reactions": reactions,
	})
}
