package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix     = "icu:session:"
	userSessionKeyPrefix = "icu:user-sessions:"
)

// RedisStore keeps sessions in redis so every server instance shares them.
// Each key's TTL equals the idle timeout and is refreshed on Touch. The
// per-user index set carries the same TTL, so it outlives its newest session
// by at most one idle period.
type RedisStore struct {
	client *redis.Client
	idle   time.Duration
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client, idle time.Duration) *RedisStore {
	return &RedisStore{client: client, idle: idle}
}

func sessionRedisKey(id string) string { return sessionKeyPrefix + id }
func userSessionsRedisKey(uid uuid.UUID) string { return userSessionKeyPrefix + uid.String() }

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionRedisKey(sess.ID), data, s.idle)
	pipe.SAdd(ctx, userSessionsRedisKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, userSessionsRedisKey(sess.UserID), s.idle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionRedisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string, now time.Time) (*Session, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastSeen = now
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	// XX: never recreate a key that expired between GET and SET.
	ok, err := s.client.SetXX(ctx, sessionRedisKey(id), data, s.idle).Result()
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := s.client.Expire(ctx, userSessionsRedisKey(sess.UserID), s.idle).Err(); err != nil {
		return nil, fmt.Errorf("touch user sessions: %w", err)
	}
	return sess, nil
}

// Lookup returns a live session without extending its TTL.
func (s *RedisStore) Lookup(ctx context.Context, id string, _ time.Time) (*Session, error) {
	return s.get(ctx, id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionRedisKey(id))
	pipe.SRem(ctx, userSessionsRedisKey(sess.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	ids, err := s.client.SMembers(ctx, userSessionsRedisKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionRedisKey(id))
	}
	keys = append(keys, userSessionsRedisKey(userID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
