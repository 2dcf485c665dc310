package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &RedisStore{
		client:      client,
		chatTTL:     24 * time.Hour,
		playbackTTL: time.Hour,
		sessionTTL:  24 * time.Hour,
		maxMessages: 200,
	}
}

func TestAddMessageIdempotent(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	msg := &models.Message{
		ID:       "msg_1",
		RoomID:   "room-1",
		AuthorID: "g1",
		Username: "alice",
		Text:     "hello",
	}

	stored, created, err := s.AddMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first post should report created")
	}
	if stored.Timestamp == 0 {
		t.Fatal("timestamp should be stamped")
	}

	// Same ID delivered again (e.g. over a second transport path).
	_, created, err = s.AddMessage(ctx, &models.Message{ID: "msg_1", RoomID: "room-1", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate ID must not create a second entry")
	}

	msgs, err := s.GetMessages(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestMessageLogTrimsToCap(t *testing.T) {
	s := newTestRedis(t)
	s.maxMessages = 5
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, _, err := s.AddMessage(ctx, &models.Message{
			ID:     fmt.Sprintf("msg_%d", i),
			RoomID: "room-1",
			Text:   fmt.Sprintf("m%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetMessages(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected log trimmed to 5, got %d", len(msgs))
	}
	// Oldest entries are the ones dropped.
	if msgs[0].ID != "msg_3" || msgs[4].ID != "msg_7" {
		t.Fatalf("wrong window kept: %s .. %s", msgs[0].ID, msgs[4].ID)
	}
}

func TestGetMessagesOldestFirst(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := s.AddMessage(ctx, &models.Message{
			ID:     fmt.Sprintf("msg_%d", i),
			RoomID: "room-1",
			Text:   "x",
		}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetMessages(ctx, "room-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "msg_1" || msgs[1].ID != "msg_2" {
		t.Fatalf("expected the 2 most recent oldest-first, got %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestReactionRoundTrip(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	added, err := s.AddReaction(ctx, "room-1", "msg_1", "👍", "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Fatal("first reaction should be added")
	}

	// Same author, same emoji: no-op.
	added, err = s.AddReaction(ctx, "room-1", "msg_1", "👍", "g1")
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("repeat reaction must not duplicate")
	}

	if _, err := s.AddReaction(ctx, "room-1", "msg_1", "👍", "g2"); err != nil {
		t.Fatal(err)
	}

	reactions, err := s.GetReactions(ctx, "room-1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions["👍"]) != 2 {
		t.Fatalf("expected 2 reactors, got %v", reactions)
	}

	// Removing one reactor keeps the emoji; removing the last deletes it.
	removed, err := s.RemoveReaction(ctx, "room-1", "msg_1", "👍", "g1")
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}
	removed, err = s.RemoveReaction(ctx, "room-1", "msg_1", "👍", "g2")
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}

	reactions, err = s.GetReactions(ctx, "room-1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 0 {
		t.Fatalf("emoji should disappear with its last reactor, got %v", reactions)
	}

	// Removing an absent reaction is a reported no-op.
	removed, err = s.RemoveReaction(ctx, "room-1", "msg_1", "👍", "g1")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("removing a non-existent reaction should report false")
	}
}

func TestPlaybackStateRoundTrip(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := &models.PlaybackState{
		MediaID:   "ep1",
		IsPlaying: true,
		Position:  123.5,
		UpdatedAt: started,
		UpdatedBy: "mod-1",
		StartedAt: &started,
	}

	if err := s.SavePlaybackState(ctx, "room-1", state); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadPlaybackState(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.MediaID != "ep1" || got.Position != 123.5 || !got.IsPlaying {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatal("StartedAt should survive the round trip")
	}

	if err := s.DeletePlaybackState(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	got, err = s.LoadPlaybackState(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("deleted state should read as nil")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "tok-1", "guest-42", "fp-abc", "203.0.113.7"); err != nil {
		t.Fatal(err)
	}

	guestID, err := s.GetSession(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if guestID != "guest-42" {
		t.Fatalf("expected guest-42, got %q", guestID)
	}

	if guestID, _ := s.GetSession(ctx, "unknown"); guestID != "" {
		t.Fatal("unknown token should resolve to empty")
	}

	if err := s.DeleteSession(ctx, "tok-1"); err != nil {
		t.Fatal(err)
	}
	if guestID, _ := s.GetSession(ctx, "tok-1"); guestID != "" {
		t.Fatal("revoked token should resolve to empty")
	}
}

func TestBans(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	if err := s.SetBan(ctx, "ip", "room-1", "203.0.113.7", time.Hour); err != nil {
		t.Fatal(err)
	}

	banned, err := s.IsBanned(ctx, "ip", "room-1", "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatal("expected ban to be visible")
	}

	// Bans are room-scoped.
	banned, err = s.IsBanned(ctx, "ip", "room-2", "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if banned {
		t.Fatal("ban must not leak into other rooms")
	}
}

func TestFingerprintIPTracking(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	count, err := s.AddFingerprintIP(ctx, "room-1", "fp-abc", "203.0.113.7", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 IP, got %d", count)
	}

	// Same IP again does not raise the count.
	count, err = s.AddFingerprintIP(ctx, "room-1", "fp-abc", "203.0.113.7", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 IP after repeat, got %d", count)
	}

	count, err = s.AddFingerprintIP(ctx, "room-1", "fp-abc", "198.51.100.9", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 IPs, got %d", count)
	}
}

func TestIPEventLogCapped(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < maxIPEvents+10; i++ {
		if err := s.LogIPEvent(ctx, "203.0.113.7", fmt.Sprintf("event-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.GetIPEvents(ctx, "203.0.113.7", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != maxIPEvents {
		t.Fatalf("expected log capped at %d, got %d", maxIPEvents, len(events))
	}
}
