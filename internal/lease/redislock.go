package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// RedisLocker is a Redis lock: SET NX PX to acquire, Lua compare-and-act to
// refresh or release so a holder never touches a lock it lost.
type RedisLocker struct {
	rdb *redis.Client
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (c *RedisLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (c *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (c *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisLocker) check(key, token string) (string, string, error) {
	if c == nil || c.rdb == nil {
		return "", "", errors.New("redis lock not initialized")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return "", "", errors.New("lock key and token are required")
	}
	return key, token, nil
}
