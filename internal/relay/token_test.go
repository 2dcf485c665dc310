package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

var guest = models.Identity{ID: "guest-1", Role: models.RoleViewer, DisplayName: "Alice"}

func parseToken(t *testing.T, signed, secret string) *claims {
	t.Helper()
	parsed, err := jwt.ParseWithClaims(signed, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Valid {
		t.Fatal("token should verify")
	}
	return parsed.Claims.(*claims)
}

func TestIssueTokenGrants(t *testing.T) {
	issuer := NewIssuer("key-1", "secret-1", "wss://relay.example.com", 6*time.Hour)

	tok, err := issuer.IssueToken("room-1", guest, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if tok.RoomName != "room_room-1" {
		t.Fatalf("unexpected room name %q", tok.RoomName)
	}
	if tok.WSURL != "wss://relay.example.com" {
		t.Fatalf("unexpected ws url %q", tok.WSURL)
	}

	c := parseToken(t, tok.Token, "secret-1")
	if c.Issuer != "key-1" {
		t.Fatalf("issuer should be the api key, got %q", c.Issuer)
	}
	if !c.Video.RoomJoin || c.Video.Room != "room_room-1" {
		t.Fatalf("bad room grant: %+v", c.Video)
	}
	if !c.Video.CanPublish {
		t.Fatal("voice permission should map to publish")
	}
	if c.Video.CanPublishData {
		t.Fatal("chat permission off should map to no data publish")
	}
	if !c.Video.CanSubscribe {
		t.Fatal("subscribe is always granted")
	}
	if c.Name != "Alice" {
		t.Fatalf("expected display name in claims, got %q", c.Name)
	}
}

func TestIssueTokenSessionIdentityUnique(t *testing.T) {
	issuer := NewIssuer("key-1", "secret-1", "wss://relay.example.com", time.Hour)

	first, err := issuer.IssueToken("room-1", guest, false, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := issuer.IssueToken("room-1", guest, false, false)
	if err != nil {
		t.Fatal(err)
	}

	c1 := parseToken(t, first.Token, "secret-1")
	c2 := parseToken(t, second.Token, "secret-1")

	if c1.Subject == c2.Subject {
		t.Fatal("each token should carry a unique session identity")
	}
	if !strings.HasPrefix(c1.Subject, "guest-1-") {
		t.Fatalf("session identity should extend the guest ID, got %q", c1.Subject)
	}
}

func TestIssueTokenExpiry(t *testing.T) {
	issuer := NewIssuer("key-1", "secret-1", "wss://relay.example.com", 2*time.Hour)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	tok, err := issuer.IssueToken("room-1", guest, false, true)
	if err != nil {
		t.Fatal(err)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(tok.Token, &claims{})
	if err != nil {
		t.Fatal(err)
	}
	c := parsed.Claims.(*claims)
	if !c.ExpiresAt.Time.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry at +2h, got %v", c.ExpiresAt.Time)
	}
}

func TestIssueTokenRequiresCredentials(t *testing.T) {
	issuer := NewIssuer("", "", "wss://relay.example.com", time.Hour)
	if _, err := issuer.IssueToken("room-1", guest, false, false); err == nil {
		t.Fatal("missing credentials should fail")
	}
}
