package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/models"
	"github.com/parhamf6/Echo-Frame/internal/store"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	guestKey    contextKey = "guest"
)

// adminSessionPrefix marks a session value as belonging to the admin
// account rather than a guest.
const adminSessionPrefix = "admin:"

// AuthMiddleware resolves session tokens into a normalized Identity.
// Admins and guests come out the same shape, so downstream code never
// branches on account type.
type AuthMiddleware struct {
	db     store.DataStore
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewAuthMiddleware creates the auth middleware.
func NewAuthMiddleware(db store.DataStore, redis *store.RedisStore, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{db: db, redis: redis, logger: logger}
}

// extractToken reads the session token from the Authorization header or,
// for websocket upgrades where headers are awkward, the token query param.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}

// RequireAuth rejects requests without a valid session token and stores
// the resolved Identity (and guest record, if any) in the context.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		identity, guest, err := a.resolve(r.Context(), token)
		if err != nil {
			a.logger.Warn().Err(err).Msg("session resolution failed")
			http.Error(w, `{"error":"session validation unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		if identity == nil {
			http.Error(w, `{"error":"invalid or expired session"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		if guest != nil {
			ctx = context.WithValue(ctx, guestKey, guest)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve looks the token up in Redis first, falling back to the data
// store so a Redis flush does not invalidate live sessions. Session
// validation is a critical path: store errors propagate instead of
// degrading.
func (a *AuthMiddleware) resolve(ctx context.Context, token string) (*models.Identity, *models.Guest, error) {
	subject, err := a.redis.GetSession(ctx, token)
	if err != nil {
		a.logger.Warn().Err(err).Msg("redis session lookup failed, falling back to database")
		subject = ""
	}

	if strings.HasPrefix(subject, adminSessionPrefix) {
		id, err := uuid.Parse(strings.TrimPrefix(subject, adminSessionPrefix))
		if err != nil {
			return nil, nil, nil
		}
		admin, err := a.db.GetAdminByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if admin == nil {
			return nil, nil, nil
		}
		return &models.Identity{
			ID:          "admin_" + admin.ID.String(),
			Role:        models.RoleAdmin,
			DisplayName: admin.Username,
		}, nil, nil
	}

	var guest *models.Guest
	if subject != "" {
		id, parseErr := uuid.Parse(subject)
		if parseErr == nil {
			guest, err = a.db.GetGuest(ctx, id)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	if guest == nil {
		guest, err = a.db.GetGuestBySessionToken(ctx, token)
		if err != nil {
			return nil, nil, err
		}
	}
	if guest == nil || guest.Kicked {
		return nil, nil, nil
	}

	return &models.Identity{
		ID:          guest.ID.String(),
		Role:        guest.Role,
		DisplayName: guest.Username,
	}, guest, nil
}

// GetIdentityFromContext returns the authenticated identity, or nil.
func GetIdentityFromContext(ctx context.Context) *models.Identity {
	identity, _ := ctx.Value(identityKey).(*models.Identity)
	return identity
}

// GetGuestFromContext returns the guest record for guest sessions, or nil
// for admin sessions.
func GetGuestFromContext(ctx context.Context) *models.Guest {
	guest, _ := ctx.Value(guestKey).(*models.Guest)
	return guest
}
