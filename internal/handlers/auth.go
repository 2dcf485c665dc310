package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// LoginRequest represents the admin login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful admin login.
type LoginResponse struct {
	Token    string `json:"token"`
	AdminID  string `json:"admin_id"`
	Username string `json:"username"`
}

// AdminLogin handles admin authentication. The session token is stored in
// Redis with an "admin:" prefix so the auth middleware can tell admin
// sessions from guest sessions.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	admin, err := h.db.GetAdminByUsername(r.Context(), req.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if admin == nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.Warn().Str("username", req.Username).Msg("failed admin login")
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.New().String()
	if err := h.redis.SaveSession(r.Context(), token, "admin:"+admin.ID.String(), "", ""); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.JSON(w, http.StatusOK, LoginResponse{
		Token:    token,
		AdminID:  admin.ID.String(),
		Username: admin.Username,
	})
}
