package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNoToken       = errors.New("no guest token stored")
	ErrNothingStaged = errors.New("no guest token staged")
	ErrNotVerified   = errors.New("bearer token not verified")
)

// RedisStore keeps per-client credentials: the guest token and the short-lived
// staging slot that carries it across a login.
type RedisStore struct {
	client     *redis.Client
	guestTTL   time.Duration
	stagingTTL time.Duration
}

func NewRedisStore(client *redis.Client, guestTTL, stagingTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		guestTTL:   guestTTL,
		stagingTTL: stagingTTL,
	}
}

func (s *RedisStore) GuestToken(ctx context.Context, clientID string) (string, error) {
	token, err := s.client.Get(ctx, guestKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("redis get guest token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) SaveGuestToken(ctx context.Context, clientID, token string) error {
	if err := s.client.Set(ctx, guestKey(clientID), token, s.guestTTL).Err(); err != nil {
		return fmt.Errorf("redis set guest token: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteGuestToken(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, guestKey(clientID)).Err(); err != nil {
		return fmt.Errorf("redis delete guest token: %w", err)
	}
	return nil
}

func (s *RedisStore) Stage(ctx context.Context, clientID, token string) error {
	if err := s.client.Set(ctx, stagingKey(clientID), token, s.stagingTTL).Err(); err != nil {
		return fmt.Errorf("redis stage guest token: %w", err)
	}
	return nil
}

// ConsumeStaged reads and deletes the staging slot in one step, so only one
// caller can ever observe a given staged token.
func (s *RedisStore) ConsumeStaged(ctx context.Context, clientID string) (string, error) {
	token, err := s.client.GetDel(ctx, stagingKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNothingStaged
	}
	if err != nil {
		return "", fmt.Errorf("redis consume staged token: %w", err)
	}
	return token, nil
}

// SaveVerifiedSubject records that the server accepted token for subject. Tokens
// are stored hashed.
func (s *RedisStore) SaveVerifiedSubject(ctx context.Context, token, subject string, ttl time.Duration) error {
	if err := s.client.Set(ctx, verifiedKey(token), subject, ttl).Err(); err != nil {
		return fmt.Errorf("redis set verified bearer: %w", err)
	}
	return nil
}

func (s *RedisStore) VerifiedSubject(ctx context.Context, token string) (string, error) {
	subject, err := s.client.Get(ctx, verifiedKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotVerified
	}
	if err != nil {
		return "", fmt.Errorf("redis get verified bearer: %w", err)
	}
	return subject, nil
}

func (s *RedisStore) ForgetVerified(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, verifiedKey(token)).Err(); err != nil {
		return fmt.Errorf("redis delete verified bearer: %w", err)
	}
	return nil
}

func guestKey(clientID string) string {
	return fmt.Sprintf("guest:token:%s", clientID)
}

func stagingKey(clientID string) string {
	return fmt.Sprintf("merge:staging:%s", clientID)
}

func verifiedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:bearer:" + hex.EncodeToString(sum[:])
}
