package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

var _ service.SessionStore = (*RedisSessionStore)(nil)

const (
	sessionKeyPrefix = "session:"
	sessionIndexKey  = "sessions"
)

// RedisSessionStore keeps classification sessions in Redis.
// Every write refreshes the key's TTL, so idle sessions expire on their own.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a store whose sessions expire after ttl of inactivity.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSessionStore{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create stores a new session, failing if the ID is taken.
func (s *RedisSessionStore) Create(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: session %s", ErrDuplicateID, session.ID)
	}

	if err := s.client.SAdd(ctx, sessionIndexKey, session.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Expired sessions are reported as not found.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "session ID"); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.NotFoundf("session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Update replaces an existing session and refreshes its TTL.
func (s *RedisSessionStore) Update(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, sessionKey(session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return common.NotFoundf("session %s", session.ID)
	}
	return nil
}

// Delete removes a session. Absent sessions are ignored.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, sessionIndexKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all live sessions, most recently updated first.
// Index entries whose keys have expired are pruned along the way.
func (s *RedisSessionStore) List(ctx context.Context) ([]*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var (
		sessions []*model.Session
		stale    []any
	)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session model.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", ids[i], err)
		}
		sessions = append(sessions, &session)
	}

	if len(stale) > 0 {
		_ = s.client.SRem(ctx, sessionIndexKey, stale...).Err()
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Ping checks connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
