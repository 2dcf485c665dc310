package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/models"
)

// RelayToken mints a media relay access token for the calling participant.
// Admins get full publish rights; guests get whatever their stored
// permission flags allow. Pending guests get nothing.
func (h *Handler) RelayToken(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		h.Error(w, http.StatusServiceUnavailable, "media relay is not configured")
		return
	}

	identity := mw.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	canVoice, canChat := false, false
	switch identity.Role {
	case models.RoleAdmin:
		canVoice, canChat = true, true
	default:
		guest := mw.GetGuestFromContext(r.Context())
		if guest == nil || guest.JoinStatus != models.JoinAccepted {
			h.Error(w, http.StatusForbidden, "not allowed")
			return
		}
		canVoice = guest.Permissions.CanVoice
		canChat = guest.Permissions.CanChat
	}

	token, err := h.relay.IssueToken(roomID.String(), *identity, canVoice, canChat)
	if err != nil {
		h.logger.Error().Err(err).Msg("relay token issue failed")
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, token)
}
