package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	guests map[uuid.UUID]*models.Guest
	rooms  map[uuid.UUID]*models.Room
}

func newMemStore() *memStore {
	return &memStore{
		guests: make(map[uuid.UUID]*models.Guest),
		rooms:  make(map[uuid.UUID]*models.Room),
	}
}

func (m *memStore) GetGuest(ctx context.Context, id uuid.UUID) (*models.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guests[id]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) SaveGuest(ctx context.Context, guest *models.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *guest
	m.guests[guest.ID] = &copied
	return nil
}

func (m *memStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	direct     []string // "guestID:event"
	broadcasts []string
	roles      map[string]models.Role
	perms      map[string]models.Permissions
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		roles: make(map[string]models.Role),
		perms: make(map[string]models.Permissions),
	}
}

func (n *recordingNotifier) SendTo(roomID, guestID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = append(n.direct, guestID+":"+event)
}

func (n *recordingNotifier) Broadcast(roomID, event string, payload any, excludeGuest string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
}

func (n *recordingNotifier) SetRole(roomID, guestID string, role models.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.roles[guestID] = role
}

func (n *recordingNotifier) SetPermissions(roomID, guestID string, perms models.Permissions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.perms[guestID] = perms
}

func (n *recordingNotifier) sentTo(guestID, event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, d := range n.direct {
		if d == guestID+":"+event {
			return true
		}
	}
	return false
}

type recordingTracker struct {
	mu   sync.Mutex
	bans map[string]time.Duration // "kind:value" -> ttl
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{bans: make(map[string]time.Duration)}
}

func (t *recordingTracker) BanIdentifier(ctx context.Context, roomID, kind, value string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bans[kind+":"+value] = ttl
	return nil
}

func (t *recordingTracker) LogEvent(ctx context.Context, ip, event string) {}

var (
	adminActor = models.Identity{ID: "admin_1", Role: models.RoleAdmin, DisplayName: "Admin"}
	modActor   = models.Identity{ID: "mod-1", Role: models.RoleModerator, DisplayName: "Mod"}
	viewActor  = models.Identity{ID: "viewer-9", Role: models.RoleViewer, DisplayName: "Viewer"}
)

func seedGuest(t *testing.T, store *memStore, status models.JoinStatus) *models.Guest {
	t.Helper()
	g := &models.Guest{
		ID:          uuid.New(),
		RoomID:      uuid.New(),
		Username:    "alice",
		Fingerprint: "fp-abc",
		IPAddress:   "203.0.113.7",
		Role:        models.RoleViewer,
		JoinStatus:  status,
	}
	if err := store.SaveGuest(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	return g
}

func newTestService(t *testing.T) (*Service, *memStore, *recordingNotifier, *recordingTracker) {
	t.Helper()
	store := newMemStore()
	notifier := newRecordingNotifier()
	tracker := newRecordingTracker()
	svc := NewService(store, notifier, tracker, 24*time.Hour, zerolog.Nop())
	return svc, store, notifier, tracker
}

func TestAcceptPendingGuest(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinPending)

	got, err := svc.Accept(context.Background(), modActor, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.JoinStatus != models.JoinAccepted {
		t.Fatalf("expected accepted, got %s", got.JoinStatus)
	}
	if got.Permissions.CanChat || got.Permissions.CanVoice {
		t.Fatal("accept should not grant permissions")
	}
	if len(notifier.broadcasts) == 0 || notifier.broadcasts[0] != "user_list_updated" {
		t.Fatal("accept should refresh the user list")
	}
}

func TestViewerCannotModerate(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinPending)

	if _, err := svc.Accept(context.Background(), viewActor, g.ID); err != models.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Kick(context.Background(), viewActor, g.ID); err != models.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRejectGuest(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinPending)

	got, err := svc.Reject(context.Background(), modActor, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.JoinStatus != models.JoinRejected {
		t.Fatalf("expected rejected, got %s", got.JoinStatus)
	}
}

func TestKickBansBothIdentifiers(t *testing.T) {
	svc, store, notifier, tracker := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	got, err := svc.Kick(context.Background(), modActor, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Kicked {
		t.Fatal("guest should be flagged kicked")
	}

	if ttl, ok := tracker.bans["ip:203.0.113.7"]; !ok || ttl != 24*time.Hour {
		t.Fatalf("expected default-TTL IP ban, got %v (%v)", ttl, ok)
	}
	if _, ok := tracker.bans["fp:fp-abc"]; !ok {
		t.Fatal("expected fingerprint ban")
	}
	if !notifier.sentTo(g.ID.String(), "guest_kicked") {
		t.Fatal("kicked guest should be told directly")
	}
}

func TestKickBanLastsUntilRoomEnd(t *testing.T) {
	svc, store, _, tracker := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	end := now.Add(3 * time.Hour)
	store.rooms[g.RoomID] = &models.Room{ID: g.RoomID, EndedAt: &end}

	if _, err := svc.Kick(context.Background(), modActor, g.ID); err != nil {
		t.Fatal(err)
	}
	if ttl := tracker.bans["ip:203.0.113.7"]; ttl != 3*time.Hour {
		t.Fatalf("expected 3h ban, got %v", ttl)
	}
}

func TestKickRequiresAcceptedGuest(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinPending)

	_, err := svc.Kick(context.Background(), modActor, g.ID)
	if err == nil {
		t.Fatal("kicking a pending guest should fail")
	}
}

func TestPromoteGrantsFullPermissions(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	got, err := svc.Promote(context.Background(), adminActor, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != models.RoleModerator {
		t.Fatalf("expected moderator, got %s", got.Role)
	}
	if !got.Permissions.CanChat || !got.Permissions.CanVoice {
		t.Fatal("promotion must grant both permissions")
	}
	if notifier.roles[g.ID.String()] != models.RoleModerator {
		t.Fatal("live role cache should be updated")
	}
	if p := notifier.perms[g.ID.String()]; !p.CanChat || !p.CanVoice {
		t.Fatal("live permission cache should be updated")
	}
	if !notifier.sentTo(g.ID.String(), "role_updated") {
		t.Fatal("promoted guest should be told directly")
	}
}

func TestPromoteRequiresAdmin(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	if _, err := svc.Promote(context.Background(), modActor, g.ID); err != models.ErrUnauthorized {
		t.Fatalf("moderators must not promote, got %v", err)
	}
	if _, err := svc.Demote(context.Background(), modActor, g.ID); err != models.ErrUnauthorized {
		t.Fatalf("moderators must not demote, got %v", err)
	}
}

func TestDemoteResetsPermissions(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	if _, err := svc.Promote(context.Background(), adminActor, g.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Demote(context.Background(), adminActor, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != models.RoleViewer {
		t.Fatalf("expected viewer, got %s", got.Role)
	}
	if got.Permissions.CanChat || got.Permissions.CanVoice {
		t.Fatal("demotion must reset permissions")
	}
	if notifier.roles[g.ID.String()] != models.RoleViewer {
		t.Fatal("live role cache should be updated")
	}
	if p := notifier.perms[g.ID.String()]; p.CanChat || p.CanVoice {
		t.Fatal("live permission cache should be reset")
	}
}

func TestUpdatePermissionsMergesPatch(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	yes := true
	got, err := svc.UpdatePermissions(context.Background(), modActor, g.ID, models.PermissionPatch{CanChat: &yes})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Permissions.CanChat {
		t.Fatal("patched flag should be set")
	}
	if got.Permissions.CanVoice {
		t.Fatal("untouched flag should keep its value")
	}
	// The grant must reach connected clients' gates without a reconnect.
	if !notifier.perms[g.ID.String()].CanChat {
		t.Fatal("live permission cache should carry the grant")
	}
}

func TestModeratorPermissionsCannotBeRevoked(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	g := seedGuest(t, store, models.JoinAccepted)

	if _, err := svc.Promote(context.Background(), adminActor, g.ID); err != nil {
		t.Fatal(err)
	}

	no := false
	got, err := svc.UpdatePermissions(context.Background(), adminActor, g.ID, models.PermissionPatch{CanChat: &no, CanVoice: &no})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Permissions.CanChat || !got.Permissions.CanVoice {
		t.Fatal("a moderator's permissions are always on")
	}
}

func TestActionsOnUnknownGuest(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Accept(context.Background(), modActor, uuid.New()); err != models.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
