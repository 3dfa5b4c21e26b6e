package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// OpenRedis parses a redis:// URL, configures pooling and verifies the
// connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisSessions keeps each session in a hash with a TTL, plus a set per
// user indexing that user's session keys.
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions returns a SessionStore backed by client.
func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func sessionKey(tokenHash string) string { return "session:" + tokenHash }
func userSessionsKey(userID string) string { return "user_sessions:" + userID }

func (r *RedisSessions) Create(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = ulid.Make().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("create session: already expired")
	}

	key := sessionKey(sess.TokenHash)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"id":         sess.ID,
		"user_id":    sess.UserID,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		"user_agent": sess.UserAgent,
		"ip_address": sess.IPAddress,
	})
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *RedisSessions) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	data, err := r.client.HGetAll(ctx, sessionKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("session: %w", store.ErrNotFound)
	}

	sess := &models.Session{
		ID:        data["id"],
		TokenHash: tokenHash,
		UserID:    data["user_id"],
		UserAgent: data["user_agent"],
		IPAddress: data["ip_address"],
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, data["expires_at"]); err != nil {
		return nil, fmt.Errorf("parse session expiry: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, data["created_at"])
	return sess, nil
}

func (r *RedisSessions) Delete(ctx context.Context, tokenHash string) error {
	key := sessionKey(tokenHash)
	userID, err := r.client.HGet(ctx, key, "user_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, userSessionsKey(userID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisSessions) DeleteUser(ctx context.Context, userID string) error {
	idx := userSessionsKey(userID)
	keys, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys = append(keys, idx)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
