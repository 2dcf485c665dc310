package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/parhamf6/Echo-Frame/internal/models"
)

// Default retention policy. Overridable per store via the setters on
// NewRedisStore's result; config wires the tuned values.
const (
	defaultChatTTL     = 24 * time.Hour
	defaultPlaybackTTL = time.Hour
	defaultSessionTTL  = 24 * time.Hour
	maxMessages        = 200
	maxIPEvents        = 100
)

// RedisStore handles Redis operations: chat history, reaction sets,
// canonical playback state, session lookups, and abuse-tracking keys.
type RedisStore struct {
	client *redis.Client

	chatTTL     time.Duration
	playbackTTL time.Duration
	sessionTTL  time.Duration
	maxMessages int
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client:      client,
		chatTTL:     defaultChatTTL,
		playbackTTL: defaultPlaybackTTL,
		sessionTTL:  defaultSessionTTL,
		maxMessages: maxMessages,
	}, nil
}

// SetRetention overrides the default TTL and trim policy.
func (s *RedisStore) SetRetention(chatTTL, playbackTTL, sessionTTL time.Duration, maxMsgs int) {
	if chatTTL > 0 {
		s.chatTTL = chatTTL
	}
	if playbackTTL > 0 {
		s.playbackTTL = playbackTTL
	}
	if sessionTTL > 0 {
		s.sessionTTL = sessionTTL
	}
	if maxMsgs > 0 {
		s.maxMessages = maxMsgs
	}
}

// Client exposes the underlying client for the rate limiter middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

func reactionsKey(roomID, messageID string) string {
	return fmt.Sprintf("room:%s:reactions:%s", roomID, messageID)
}

func playbackKey(roomID string) string {
	return fmt.Sprintf("room:%s:playback_state", roomID)
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func banKey(kind, roomID, value string) string {
	return fmt.Sprintf("ban:%s:%s:%s", kind, roomID, value)
}

func fingerprintKey(roomID, fingerprint string) string {
	return fmt.Sprintf("fp:%s:%s", roomID, fingerprint)
}

func ipEventsKey(ip string) string {
	return fmt.Sprintf("ip:events:%s", ip)
}

// AddMessage appends a message to the room's chat log. If a message with
// the same ID is already in the recent log, the stored message is returned
// unchanged with created=false: clients may deliver the same message over
// two transport paths.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = "msg_" + ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	key := roomMessagesKey(msg.RoomID)

	existing, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, false, err
	}
	for _, data := range existing {
		var m models.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		if m.ID == msg.ID {
			return &m, false, nil
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false, err
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-s.maxMessages), -1)
	pipe.Expire(ctx, key, s.chatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, err
	}

	return msg, true, nil
}

// GetMessages returns the most recent messages, oldest first.
func (s *RedisStore) GetMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > s.maxMessages {
		limit = s.maxMessages
	}

	key := roomMessagesKey(roomID)
	results, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var m models.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// HasMessage reports whether a message ID is present in the room's log.
func (s *RedisStore) HasMessage(ctx context.Context, roomID, messageID string) (bool, error) {
	msgs, err := s.GetMessages(ctx, roomID, 0)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return true, nil
		}
	}
	return false, nil
}

// AddReaction adds authorID to the emoji's reactor set for the message.
// Returns false if the author had already reacted with that emoji.
func (s *RedisStore) AddReaction(ctx context.Context, roomID, messageID, emoji, authorID string) (bool, error) {
	key := reactionsKey(roomID, messageID)

	existing, err := s.client.HGet(ctx, key, emoji).Result()
	if err != nil && err != redis.Nil {
		return false, err
	}

	var authors []string
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &authors); err != nil {
			authors = nil
		}
	}
	for _, a := range authors {
		if a == authorID {
			return false, nil
		}
	}

	authors = append(authors, authorID)
	data, err := json.Marshal(authors)
	if err != nil {
		return false, err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, emoji, string(data))
	pipe.Expire(ctx, key, s.chatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveReaction removes authorID from the emoji's reactor set. The emoji
// key is deleted entirely when its last reactor is removed.
func (s *RedisStore) RemoveReaction(ctx context.Context, roomID, messageID, emoji, authorID string) (bool, error) {
	key := reactionsKey(roomID, messageID)

	existing, err := s.client.HGet(ctx, key, emoji).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var authors []string
	if err := json.Unmarshal([]byte(existing), &authors); err != nil {
		return false, err
	}

	kept := authors[:0]
	found := false
	for _, a := range authors {
		if a == authorID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return false, nil
	}

	if len(kept) == 0 {
		return true, s.client.HDel(ctx, key, emoji).Err()
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return false, err
	}
	return true, s.client.HSet(ctx, key, emoji, string(data)).Err()
}

// GetReactions returns the emoji -> reactor set mapping for a message.
func (s *RedisStore) GetReactions(ctx context.Context, roomID, messageID string) (models.Reactions, error) {
	key := reactionsKey(roomID, messageID)
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	reactions := make(models.Reactions, len(raw))
	for emoji, data := range raw {
		var authors []string
		if err := json.Unmarshal([]byte(data), &authors); err != nil {
			continue
		}
		reactions[emoji] = authors
	}
	return reactions, nil
}

// GetAllReactions fetches reactions for multiple messages at once.
func (s *RedisStore) GetAllReactions(ctx context.Context, roomID string, messageIDs []string) (map[string]models.Reactions, error) {
	all := make(map[string]models.Reactions)
	for _, id := range messageIDs {
		reactions, err := s.GetReactions(ctx, roomID, id)
		if err != nil {
			return nil, err
		}
		if len(reactions) > 0 {
			all[id] = reactions
		}
	}
	return all, nil
}

// SavePlaybackState persists the canonical playback state for late joiners.
// The key's TTL is refreshed on every write.
func (s *RedisStore) SavePlaybackState(ctx context.Context, roomID string, state *models.PlaybackState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, playbackKey(roomID), string(data), s.playbackTTL).Err()
}

// LoadPlaybackState retrieves the stored playback state, or nil if absent.
func (s *RedisStore) LoadPlaybackState(ctx context.Context, roomID string) (*models.PlaybackState, error) {
	data, err := s.client.Get(ctx, playbackKey(roomID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := &models.PlaybackState{}
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, err
	}
	return state, nil
}

// DeletePlaybackState discards the stored state when a room closes.
func (s *RedisStore) DeletePlaybackState(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, playbackKey(roomID)).Err()
}

// SaveSession stores a session token mapping: guest_id|fingerprint|ip.
func (s *RedisStore) SaveSession(ctx context.Context, token, guestID, fingerprint, ip string) error {
	value := fmt.Sprintf("%s|%s|%s", guestID, fingerprint, ip)
	return s.client.Set(ctx, sessionKey(token), value, s.sessionTTL).Err()
}

// GetSession returns the guest ID bound to a session token, or "" if the
// token is unknown or expired.
func (s *RedisStore) GetSession(ctx context.Context, token string) (string, error) {
	value, err := s.client.Get(ctx, sessionKey(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for i := 0; i < len(value); i++ {
		if value[i] == '|' {
			return value[:i], nil
		}
	}
	return value, nil
}

// DeleteSession revokes a session token.
func (s *RedisStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

// SetBan blocks an identifier (ip or fingerprint) for a room.
func (s *RedisStore) SetBan(ctx context.Context, kind, roomID, value string, ttl time.Duration) error {
	return s.client.Set(ctx, banKey(kind, roomID, value), "1", ttl).Err()
}

// IsBanned reports whether an identifier is blocked for a room.
func (s *RedisStore) IsBanned(ctx context.Context, kind, roomID, value string) (bool, error) {
	n, err := s.client.Exists(ctx, banKey(kind, roomID, value)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddFingerprintIP associates an IP with a device fingerprint for a room
// and returns the number of distinct IPs seen for that fingerprint.
func (s *RedisStore) AddFingerprintIP(ctx context.Context, roomID, fingerprint, ip string, ttl time.Duration) (int64, error) {
	key := fingerprintKey(roomID, fingerprint)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, ip)
	pipe.Expire(ctx, key, ttl)
	countCmd := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

// LogIPEvent records a timestamped event for an IP in a capped list.
func (s *RedisStore) LogIPEvent(ctx context.Context, ip, event string) error {
	key := ipEventsKey(ip)
	entry := fmt.Sprintf("%d|%s", time.Now().Unix(), event)
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, maxIPEvents-1)
	_, err := pipe.Exec(ctx)
	return err
}

// GetIPEvents returns recent events for an IP, newest first.
func (s *RedisStore) GetIPEvents(ctx context.Context, ip string, limit int) ([]string, error) {
	if limit <= 0 || limit > maxIPEvents {
		limit = maxIPEvents
	}
	return s.client.LRange(ctx, ipEventsKey(ip), 0, int64(limit)-1).Result()
}
