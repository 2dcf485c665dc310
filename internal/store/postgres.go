package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS admins (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS guests (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id UUID NOT NULL REFERENCES rooms(id),
		username TEXT NOT NULL,
		session_token TEXT UNIQUE NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'viewer',
		can_chat BOOLEAN NOT NULL DEFAULT false,
		can_voice BOOLEAN NOT NULL DEFAULT false,
		join_status TEXT NOT NULL DEFAULT 'pending',
		kicked BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_guests_room ON guests(room_id);
	CREATE INDEX IF NOT EXISTS idx_guests_status ON guests(room_id, join_status);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAdmin creates a new admin record.
func (s *PostgresStore) CreateAdmin(ctx context.Context, username, passwordHash string) (*models.Admin, error) {
	admin := &models.Admin{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO admins (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// GetAdminByUsername retrieves an admin by username.
func (s *PostgresStore) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	admin := &models.Admin{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM admins WHERE username = $1
	`, username).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return admin, nil
}

// GetAdminByID retrieves an admin by ID.
func (s *PostgresStore) GetAdminByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	admin := &models.Admin{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM admins WHERE id = $1
	`, id).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return admin, nil
}

const guestColumns = `id, room_id, username, session_token, fingerprint, ip_address,
	role, can_chat, can_voice, join_status, kicked, created_at`

func scanGuest(row pgx.Row) (*models.Guest, error) {
	g := &models.Guest{}
	err := row.Scan(
		&g.ID,
		&g.RoomID,
		&g.Username,
		&g.SessionToken,
		&g.Fingerprint,
		&g.IPAddress,
		&g.Role,
		&g.Permissions.CanChat,
		&g.Permissions.CanVoice,
		&g.JoinStatus,
		&g.Kicked,
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// CreateGuest inserts a new guest record, filling in its generated fields.
func (s *PostgresStore) CreateGuest(ctx context.Context, guest *models.Guest) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO guests (room_id, username, session_token, fingerprint, ip_address, role, join_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, guest.RoomID, guest.Username, guest.SessionToken, guest.Fingerprint,
		guest.IPAddress, guest.Role, guest.JoinStatus,
	).Scan(&guest.ID, &guest.CreatedAt)
}

// GetGuest retrieves a guest by ID.
func (s *PostgresStore) GetGuest(ctx context.Context, id uuid.UUID) (*models.Guest, error) {
	return scanGuest(s.pool.QueryRow(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE id = $1`, id))
}

// GetGuestBySessionToken retrieves a guest by its session token.
func (s *PostgresStore) GetGuestBySessionToken(ctx context.Context, token string) (*models.Guest, error) {
	return scanGuest(s.pool.QueryRow(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE session_token = $1`, token))
}

// SaveGuest persists mutable guest fields.
func (s *PostgresStore) SaveGuest(ctx context.Context, guest *models.Guest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE guests
		SET role = $2, can_chat = $3, can_voice = $4, join_status = $5, kicked = $6
		WHERE id = $1
	`, guest.ID, guest.Role, guest.Permissions.CanChat, guest.Permissions.CanVoice,
		guest.JoinStatus, guest.Kicked)
	return err
}

// ListPendingGuests returns guests awaiting moderation, newest first.
func (s *PostgresStore) ListPendingGuests(ctx context.Context, roomID uuid.UUID, limit int) ([]models.Guest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+guestColumns+` FROM guests
		WHERE room_id = $1 AND join_status = 'pending'
		ORDER BY created_at DESC LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGuests(rows)
}

// ListRoomGuests returns every guest record for a room.
func (s *PostgresStore) ListRoomGuests(ctx context.Context, roomID uuid.UUID) ([]models.Guest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+guestColumns+` FROM guests
		WHERE room_id = $1
		ORDER BY created_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGuests(rows)
}

func collectGuests(rows pgx.Rows) ([]models.Guest, error) {
	var guests []models.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

// CountActiveGuests counts accepted, non-kicked guests in a room.
func (s *PostgresStore) CountActiveGuests(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM guests
		WHERE room_id = $1 AND join_status = 'accepted' AND kicked = false
	`, roomID).Scan(&count)
	return count, err
}

// ErrActiveRoomExists is returned by CreateRoom when the single-active-room
// invariant would be violated.
var ErrActiveRoomExists = errors.New("an active room already exists")

// CreateRoom creates the room. Only one active room may exist at a time.
func (s *PostgresStore) CreateRoom(ctx context.Context) (*models.Room, error) {
	existing, err := s.GetActiveRoom(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrActiveRoomExists
	}

	room := &models.Room{}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO rooms DEFAULT VALUES
		RETURNING id, is_active, created_at, ended_at
	`).Scan(&room.ID, &room.IsActive, &room.CreatedAt, &room.EndedAt)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	room := &models.Room{}
	err := row.Scan(&room.ID, &room.IsActive, &room.CreatedAt, &room.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms WHERE id = $1`, id))
}

// GetActiveRoom retrieves the currently active room, if any.
func (s *PostgresStore) GetActiveRoom(ctx context.Context) (*models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms WHERE is_active = true LIMIT 1`))
}

// GetLatestRoom retrieves the most recently created room, if any.
func (s *PostgresStore) GetLatestRoom(ctx context.Context) (*models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms ORDER BY created_at DESC LIMIT 1`))
}

// CloseRoom deactivates a room and stamps its scheduled end time.
func (s *PostgresStore) CloseRoom(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `
		UPDATE rooms SET is_active = false, ended_at = $2
		WHERE id = $1
		RETURNING id, is_active, created_at, ended_at
	`, id, endedAt))
}
