package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/abuse"
	"github.com/parhamf6/Echo-Frame/internal/config"
	"github.com/parhamf6/Echo-Frame/internal/models"
	"github.com/parhamf6/Echo-Frame/internal/moderation"
	"github.com/parhamf6/Echo-Frame/internal/playback"
	"github.com/parhamf6/Echo-Frame/internal/realtime"
	"github.com/parhamf6/Echo-Frame/internal/relay"
	"github.com/parhamf6/Echo-Frame/internal/requests"
	"github.com/parhamf6/Echo-Frame/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db         store.DataStore
	redis      *store.RedisStore
	registry   *realtime.Registry
	reconciler *playback.Reconciler
	queue      *requests.Queue
	moderation *moderation.Service
	relay      *relay.Issuer
	abuse      *abuse.Tracker
	cfg        *config.Config
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	db store.DataStore,
	redis *store.RedisStore,
	registry *realtime.Registry,
	reconciler *playback.Reconciler,
	queue *requests.Queue,
	mod *moderation.Service,
	issuer *relay.Issuer,
	tracker *abuse.Tracker,
	cfg *config.Config,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		db:         db,
		redis:      redis,
		registry:   registry,
		reconciler: reconciler,
		queue:      queue,
		moderation: mod,
		relay:      issuer,
		abuse:      tracker,
		cfg:        cfg,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DomainError maps sentinel errors from the core services to HTTP status
// codes. Unrecognized errors are logged and reported as 500.
func (h *Handler) DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		h.Error(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, models.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrValidation):
		h.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("internal error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeName trims and limits a display name to 50 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Truncate by runes so a multi-byte character is never split.
	if runes := []rune(name); len(runes) > 50 {
		name = string(runes[:50])
	}

	return name
}
