package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

// OTPStore keeps hashed one-time codes in Redis, one set of keys per lock id.
type OTPStore struct {
	client *redis.Client
}

func NewOTPStore(client *redis.Client) *OTPStore {
	return &OTPStore{client: client}
}

func codeKey(lockID string) string     { return fmt.Sprintf("otp:code:%s", lockID) }
func attemptsKey(lockID string) string { return fmt.Sprintf("otp:attempts:%s", lockID) }
func cooldownKey(lockID string) string { return fmt.Sprintf("otp:cooldown:%s", lockID) }

func (s *OTPStore) Reserve(ctx context.Context, lockID string, cooldown time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, cooldownKey(lockID), 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("reserve otp cooldown: %w", err)
	}
	return ok, nil
}

func (s *OTPStore) Save(ctx context.Context, lockID string, hash []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, codeKey(lockID), hash, ttl)
		p.Del(ctx, attemptsKey(lockID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (s *OTPStore) Load(ctx context.Context, lockID string) ([]byte, error) {
	b, err := s.client.Get(ctx, codeKey(lockID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, verification.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load otp: %w", err)
	}
	return b, nil
}

func (s *OTPStore) IncrAttempts(ctx context.Context, lockID string, ttl time.Duration) (int64, error) {
	key := attemptsKey(lockID)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr otp attempts: %w", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("expire otp attempts: %w", err)
		}
	}
	return n, nil
}

var consumeScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  redis.call("DEL", KEYS[2])
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (s *OTPStore) Consume(ctx context.Context, lockID string, hash []byte) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{codeKey(lockID), attemptsKey(lockID)}, hash).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return n == 1, nil
}

func (s *OTPStore) Release(ctx context.Context, lockID string) error {
	if err := s.client.Del(ctx, codeKey(lockID), attemptsKey(lockID), cooldownKey(lockID)).Err(); err != nil {
		return fmt.Errorf("release otp: %w", err)
	}
	return nil
}
