package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

// SQLiteStore handles SQLite database operations. It exists so the server
// can run without PostgreSQL in development and small deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/echoframe.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/echoframe.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ended_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS guests (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		username TEXT NOT NULL,
		session_token TEXT UNIQUE NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'viewer',
		can_chat INTEGER NOT NULL DEFAULT 0,
		can_voice INTEGER NOT NULL DEFAULT 0,
		join_status TEXT NOT NULL DEFAULT 'pending',
		kicked INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_guests_room ON guests(room_id);
	CREATE INDEX IF NOT EXISTS idx_guests_status ON guests(room_id, join_status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAdmin creates a new admin record.
func (s *SQLiteStore) CreateAdmin(ctx context.Context, username, passwordHash string) (*models.Admin, error) {
	admin := &models.Admin{
		ID:        uuid.New(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	admin.PasswordHash = passwordHash

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, admin.ID.String(), username, passwordHash, admin.CreatedAt)
	if err != nil {
		return nil, err
	}
	return admin, nil
}

func (s *SQLiteStore) scanAdmin(row *sql.Row) (*models.Admin, error) {
	admin := &models.Admin{}
	var id string
	err := row.Scan(&id, &admin.Username, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	admin.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// GetAdminByUsername retrieves an admin by username.
func (s *SQLiteStore) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	return s.scanAdmin(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM admins WHERE username = ?
	`, username))
}

// GetAdminByID retrieves an admin by ID.
func (s *SQLiteStore) GetAdminByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	return s.scanAdmin(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM admins WHERE id = ?
	`, id.String()))
}

const sqliteGuestColumns = `id, room_id, username, session_token, fingerprint, ip_address,
	role, can_chat, can_voice, join_status, kicked, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGuest(row rowScanner) (*models.Guest, error) {
	g := &models.Guest{}
	var id, roomID string
	err := row.Scan(
		&id,
		&roomID,
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if g.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if g.RoomID, err = uuid.Parse(roomID); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGuest inserts a new guest record, filling in its generated fields.
func (s *SQLiteStore) CreateGuest(ctx context.Context, guest *models.Guest) error {
	guest.ID = uuid.New()
	guest.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guests (id, room_id, username, session_token, fingerprint, ip_address, role, join_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, guest.ID.String(), guest.RoomID.String(), guest.Username, guest.SessionToken,
		guest.Fingerprint, guest.IPAddress, guest.Role, guest.JoinStatus, guest.CreatedAt)
	return err
}

// GetGuest retrieves a guest by ID.
func (s *SQLiteStore) GetGuest(ctx context.Context, id uuid.UUID) (*models.Guest, error) {
	return scanSQLiteGuest(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteGuestColumns+` FROM guests WHERE id = ?`, id.String()))
}

// GetGuestBySessionToken retrieves a guest by its session token.
func (s *SQLiteStore) GetGuestBySessionToken(ctx context.Context, token string) (*models.Guest, error) {
	return scanSQLiteGuest(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteGuestColumns+` FROM guests WHERE session_token = ?`, token))
}

// SaveGuest persists mutable guest fields.
func (s *SQLiteStore) SaveGuest(ctx context.Context, guest *models.Guest) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE guests
		SET role = ?, can_chat = ?, can_voice = ?, join_status = ?, kicked = ?
		WHERE id = ?
	`, guest.Role, guest.Permissions.CanChat, guest.Permissions.CanVoice,
		guest.JoinStatus, guest.Kicked, guest.ID.String())
	return err
}

// ListPendingGuests returns guests awaiting moderation, newest first.
func (s *SQLiteStore) ListPendingGuests(ctx context.Context, roomID uuid.UUID, limit int) ([]models.Guest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteGuestColumns+` FROM guests
		WHERE room_id = ? AND join_status = 'pending'
		ORDER BY created_at DESC LIMIT ?
	`, roomID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectGuests(rows)
}

// ListRoomGuests returns every guest record for a room.
func (s *SQLiteStore) ListRoomGuests(ctx context.Context, roomID uuid.UUID) ([]models.Guest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteGuestColumns+` FROM guests
		WHERE room_id = ?
		ORDER BY created_at ASC
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectGuests(rows)
}

func (s *SQLiteStore) collectGuests(rows *sql.Rows) ([]models.Guest, error) {
	var guests []models.Guest
	for rows.Next() {
		g, err := scanSQLiteGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

// CountActiveGuests counts accepted, non-kicked guests in a room.
func (s *SQLiteStore) CountActiveGuests(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM guests
		WHERE room_id = ? AND join_status = 'accepted' AND kicked = 0
	`, roomID.String()).Scan(&count)
	return count, err
}

// CreateRoom creates the room. Only one active room may exist at a time.
func (s *SQLiteStore) CreateRoom(ctx context.Context) (*models.Room, error) {
	existing, err := s.GetActiveRoom(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrActiveRoomExists
	}

	room := &models.Room{
		ID:        uuid.New(),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, is_active, created_at) VALUES (?, 1, ?)
	`, room.ID.String(), room.CreatedAt)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func scanSQLiteRoom(row rowScanner) (*models.Room, error) {
	room := &models.Room{}
	var id string
	var active int
	err := row.Scan(&id, &active, &room.CreatedAt, &room.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if room.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	room.IsActive = active != 0
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return scanSQLiteRoom(s.db.QueryRowContext(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms WHERE id = ?`, id.String()))
}

// GetActiveRoom retrieves the currently active room, if any.
func (s *SQLiteStore) GetActiveRoom(ctx context.Context) (*models.Room, error) {
	return scanSQLiteRoom(s.db.QueryRowContext(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms WHERE is_active = 1 LIMIT 1`))
}

// GetLatestRoom retrieves the most recently created room, if any.
func (s *SQLiteStore) GetLatestRoom(ctx context.Context) (*models.Room, error) {
	return scanSQLiteRoom(s.db.QueryRowContext(ctx,
		`SELECT id, is_active, created_at, ended_at FROM rooms ORDER BY created_at DESC LIMIT 1`))
}

// CloseRoom deactivates a room and stamps its scheduled end time.
func (s *SQLiteStore) CloseRoom(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.Room, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET is_active = 0, ended_at = ? WHERE id = ?
	`, endedAt, id.String())
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}
