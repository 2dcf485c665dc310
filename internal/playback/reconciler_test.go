package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Broadcast(roomID, event string, payload any, excludeGuest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeNotifier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1]
}

type fakePersister struct {
	mu     sync.Mutex
	states map[string]*models.PlaybackState
}

func newFakePersister() *fakePersister {
	return &fakePersister{states: make(map[string]*models.PlaybackState)}
}

func (f *fakePersister) SavePlaybackState(ctx context.Context, roomID string, state *models.PlaybackState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *state
	f.states[roomID] = &copied
	return nil
}

func (f *fakePersister) LoadPlaybackState(ctx context.Context, roomID string) (*models.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[roomID]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}

func (f *fakePersister) DeletePlaybackState(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, roomID)
	return nil
}

var (
	mod    = models.Identity{ID: "mod-1", Role: models.RoleModerator, DisplayName: "Mod"}
	viewer = models.Identity{ID: "viewer-1", Role: models.RoleViewer, DisplayName: "Viewer"}
)

func newTestReconciler(t *testing.T) (*Reconciler, *fakeNotifier, *fakePersister, *time.Time) {
	t.Helper()
	notifier := &fakeNotifier{}
	persister := newFakePersister()
	r := NewReconciler(Config{
		Tolerance: 1.0,
		Debounce:  2 * time.Second,
		TTL:       time.Hour,
	}, notifier, persister, zerolog.Nop())

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r, notifier, persister, &clock
}

func TestFirstUpdateAccepted(t *testing.T) {
	r, notifier, _, _ := newTestReconciler(t)

	state, err := r.Apply(context.Background(), "room-1", mod, models.PlaybackUpdate{
		MediaID: "ep1", IsPlaying: true, Position: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("first update should be accepted")
	}
	if state.StartedAt == nil {
		t.Fatal("playing state should have StartedAt set")
	}
	if notifier.last() != "playback_state" {
		t.Fatalf("expected playback_state event, got %q", notifier.last())
	}
}

func TestViewerCannotControl(t *testing.T) {
	r, notifier, _, _ := newTestReconciler(t)

	_, err := r.Apply(context.Background(), "room-1", viewer, models.PlaybackUpdate{MediaID: "ep1"})
	if err != models.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("unauthorized update must not broadcast")
	}
}

func TestMediaSwitchResetsPosition(t *testing.T) {
	r, notifier, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: true, Position: 500}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(100 * time.Millisecond)
	state, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep2", IsPlaying: true, Position: 42})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("media switch must never be suppressed")
	}
	if state.Position != 0 {
		t.Fatalf("media switch should reset position, got %v", state.Position)
	}
	if state.IsPlaying {
		t.Fatal("media switch should land paused")
	}
	if notifier.last() != "playback_switched" {
		t.Fatalf("expected playback_switched event, got %q", notifier.last())
	}
}

func TestPlayPauseEdgeBypassesDebounce(t *testing.T) {
	r, _, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: true, Position: 10}); err != nil {
		t.Fatal(err)
	}

	// Still inside the debounce window.
	*clock = clock.Add(500 * time.Millisecond)
	state, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 10.5})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("play/pause edge must never be suppressed")
	}
	if state.IsPlaying {
		t.Fatal("expected paused state")
	}
}

func TestSmallDriftSuppressed(t *testing.T) {
	r, notifier, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 100}); err != nil {
		t.Fatal(err)
	}
	broadcasts := notifier.count()

	*clock = clock.Add(5 * time.Second)
	state, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 100.4})
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Fatal("sub-tolerance drift should be suppressed")
	}
	if notifier.count() != broadcasts {
		t.Fatal("suppressed update must not broadcast")
	}

	// Stored state is untouched by the suppressed update.
	got, err := r.State(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Position != 100 {
		t.Fatalf("suppressed update must not be stored, got position %v", got.Position)
	}
}

func TestDebounceWindow(t *testing.T) {
	r, _, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 100}); err != nil {
		t.Fatal(err)
	}

	// Large drift, but inside the debounce window.
	*clock = clock.Add(time.Second)
	state, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 150})
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Fatal("position change inside the debounce window should be suppressed")
	}

	// Same update after the window passes.
	*clock = clock.Add(2 * time.Second)
	state, err = r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 150})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("position change after the debounce window should be applied")
	}
	if state.Position != 150 {
		t.Fatalf("expected position 150, got %v", state.Position)
	}
}

func TestApplyCommandBypassesSuppression(t *testing.T) {
	r, _, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 100}); err != nil {
		t.Fatal(err)
	}

	// Tiny delta and inside the debounce window: a direct update would be
	// dropped on both counts, an approved command goes through.
	*clock = clock.Add(100 * time.Millisecond)
	state, err := r.ApplyCommand(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: false, Position: 100.2})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("approved command must never be suppressed")
	}
	if state.Position != 100.2 {
		t.Fatalf("expected position 100.2, got %v", state.Position)
	}
}

func TestHeartbeatInterpolation(t *testing.T) {
	r, notifier, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", IsPlaying: true, Position: 10}); err != nil {
		t.Fatal(err)
	}
	broadcasts := notifier.count()

	// 5s later the interpolated position is 15; a report of 15.3 is within
	// tolerance and ignored even though it differs from the stored 10.
	*clock = clock.Add(5 * time.Second)
	state, err := r.Heartbeat(ctx, "room-1", mod, 15.3)
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Fatal("in-tolerance heartbeat should be ignored")
	}
	if notifier.count() != broadcasts {
		t.Fatal("ignored heartbeat must not broadcast")
	}

	// A report of 20 is 5s off the interpolated position: correct it.
	state, err = r.Heartbeat(ctx, "room-1", mod, 20)
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("drifted heartbeat should correct the state")
	}
	if state.Position != 20 {
		t.Fatalf("expected position 20, got %v", state.Position)
	}
	if state.StartedAt == nil || !state.StartedAt.Equal(*clock) {
		t.Fatal("heartbeat correction should rebase StartedAt")
	}
}

func TestHeartbeatWithoutStateIsNoop(t *testing.T) {
	r, notifier, _, _ := newTestReconciler(t)

	state, err := r.Heartbeat(context.Background(), "room-1", mod, 42)
	if err != nil {
		t.Fatal(err)
	}
	if state != nil || notifier.count() != 0 {
		t.Fatal("heartbeat before any control event should do nothing")
	}
}

func TestStateFallsBackToPersister(t *testing.T) {
	r, _, persister, _ := newTestReconciler(t)
	ctx := context.Background()

	saved := &models.PlaybackState{MediaID: "ep1", IsPlaying: false, Position: 77}
	if err := persister.SavePlaybackState(ctx, "room-1", saved); err != nil {
		t.Fatal(err)
	}

	got, err := r.State(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Position != 77 {
		t.Fatalf("expected persisted state, got %+v", got)
	}

	// Second read hits the in-memory copy.
	if err := persister.DeletePlaybackState(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	got, err = r.State(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Position != 77 {
		t.Fatal("state should be cached after the first load")
	}
}

// gatePersister parks inside SavePlaybackState until released, standing in
// for a stalled Redis write.
type gatePersister struct {
	fakePersister
	entered chan struct{}
	release chan struct{}
}

func (g *gatePersister) SavePlaybackState(ctx context.Context, roomID string, state *models.PlaybackState) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakePersister.SavePlaybackState(ctx, roomID, state)
}

func TestStalledPersistDoesNotBlockRoom(t *testing.T) {
	notifier := &fakeNotifier{}
	persister := &gatePersister{
		fakePersister: fakePersister{states: make(map[string]*models.PlaybackState)},
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	r := NewReconciler(Config{
		Tolerance: 1.0,
		Debounce:  2 * time.Second,
		TTL:       time.Hour,
	}, notifier, persister, zerolog.Nop())

	applied := make(chan struct{})
	go func() {
		defer close(applied)
		if _, err := r.Apply(context.Background(), "room-1", mod, models.PlaybackUpdate{
			MediaID: "ep1", IsPlaying: false, Position: 42,
		}); err != nil {
			t.Error(err)
		}
	}()
	<-persister.entered

	// The broadcast must already be out before the write lands.
	if notifier.last() != "playback_state" {
		t.Fatalf("expected playback_state before persist completes, got %q", notifier.last())
	}

	// The Redis write is still in flight; reads on the same room must not
	// park behind it.
	read := make(chan float64, 1)
	go func() {
		pos, ok := r.CurrentPosition("room-1")
		if !ok {
			t.Error("expected state for room-1")
		}
		read <- pos
	}()
	select {
	case pos := <-read:
		if pos != 42 {
			t.Fatalf("expected position 42, got %v", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room state locked behind a stalled persist")
	}

	close(persister.release)
	<-applied
}

func TestSweepEvictsIdleRooms(t *testing.T) {
	r, _, _, clock := newTestReconciler(t)
	ctx := context.Background()

	if _, err := r.Apply(ctx, "room-1", mod, models.PlaybackUpdate{MediaID: "ep1", Position: 1}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(2 * time.Hour)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 room swept, got %d", n)
	}
}
