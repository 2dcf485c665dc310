// Package relay issues time-boxed access tokens for the external media
// relay (voice and data channels). The relay trusts the token's grants;
// this service maps room membership and permission flags into them.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

// Issuer signs relay access tokens.
type Issuer struct {
	apiKey    string
	apiSecret string
	host      string
	ttl       time.Duration
	now       func() time.Time
}

// NewIssuer constructs an Issuer. apiKey and apiSecret are the shared
// credentials the relay service knows.
func NewIssuer(apiKey, apiSecret, host string, ttl time.Duration) *Issuer {
	return &Issuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		host:      host,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Token is the issued credential plus the connection details the client
// needs.
type Token struct {
	Token    string `json:"token"`
	RoomName string `json:"room_name"`
	WSURL    string `json:"ws_url"`
}

// grants mirrors the relay's permission model: audio publish for voice,
// data publish for chat, subscribe always on so everyone can listen.
type grants struct {
	RoomJoin             bool   `json:"room_join"`
	Room                 string `json:"room"`
	CanPublish           bool   `json:"can_publish"`
	CanSubscribe         bool   `json:"can_subscribe"`
	CanPublishData       bool   `json:"can_publish_data"`
	CanUpdateOwnMetadata bool   `json:"can_update_own_metadata"`
}

type claims struct {
	jwt.RegisteredClaims
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
	Video    grants `json:"video"`
}

// IssueToken mints a token for one participant. The identity gets a
// session-unique suffix so a reconnecting client never collides with its
// previous relay session; the original ID travels in the metadata claim.
func (i *Issuer) IssueToken(roomID string, identity models.Identity, canVoice, canChat bool) (*Token, error) {
	if i.apiKey == "" || i.apiSecret == "" {
		return nil, errors.New("relay credentials not configured")
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return nil, err
	}
	sessionIdentity := fmt.Sprintf("%s-%s", identity.ID, hex.EncodeToString(suffix))
	roomName := "room_" + roomID

	metadata, err := json.Marshal(map[string]string{
		"username":         identity.DisplayName,
		"guest_id":         identity.ID,
		"role":             string(identity.Role),
		"session_identity": sessionIdentity,
	})
	if err != nil {
		return nil, err
	}

	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   sessionIdentity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:     identity.DisplayName,
		Metadata: string(metadata),
		Video: grants{
			RoomJoin:             true,
			Room:                 roomName,
			CanPublish:           canVoice,
			CanSubscribe:         true,
			CanPublishData:       canChat,
			CanUpdateOwnMetadata: true,
		},
	})

	signed, err := token.SignedString([]byte(i.apiSecret))
	if err != nil {
		return nil, err
	}

	return &Token{Token: signed, RoomName: roomName, WSURL: i.host}, nil
}
