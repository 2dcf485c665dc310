package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

// DataStore defines the interface for persistent storage of admin, guest,
// and room records. Both PostgresStore and SQLiteStore implement this
// interface. Reads are strongly consistent with prior writes within a
// single process.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Admin operations
	CreateAdmin(ctx context.Context, username, passwordHash string) (*models.Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error)
	GetAdminByID(ctx context.Context, id uuid.UUID) (*models.Admin, error)

	// Guest operations
	CreateGuest(ctx context.Context, guest *models.Guest) error
	GetGuest(ctx context.Context, id uuid.UUID) (*models.Guest, error)
	GetGuestBySessionToken(ctx context.Context, token string) (*models.Guest, error)
	SaveGuest(ctx context.Context, guest *models.Guest) error
	ListPendingGuests(ctx context.Context, roomID uuid.UUID, limit int) ([]models.Guest, error)
	ListRoomGuests(ctx context.Context, roomID uuid.UUID) ([]models.Guest, error)
	CountActiveGuests(ctx context.Context, roomID uuid.UUID) (int64, error)

	// Room operations
	CreateRoom(ctx context.Context) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetActiveRoom(ctx context.Context) (*models.Room, error)
	GetLatestRoom(ctx context.Context) (*models.Room, error)
	CloseRoom(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.Room, error)
}
