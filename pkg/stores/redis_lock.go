package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openfroyo/stackforge/pkg/lock"
)

var _ lock.Store = (*RedisLockStore)(nil)

// RedisClient is the subset of go-redis client methods used by RedisLockStore.
type RedisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisConfig holds configuration for the Redis lock store
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// DefaultRedisPrefix is prepended to every lock key.
const DefaultRedisPrefix = "stackforge:lock:"

// stealScript replaces the owner of KEYS[1] if it is still ARGV[1]. It
// returns 1 when stolen, 0 when the key is gone, or the current owner.
var stealScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if not owner then
	return 0
end
if owner == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return owner
`)

// releaseScript deletes KEYS[1] if it is owned by ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockStore keeps stack locks as Redis keys without expiry.
type RedisLockStore struct {
	client RedisClient
	prefix string
}

// NewRedisLockStore connects to Redis and verifies the connection with PING.
func NewRedisLockStore(ctx context.Context, cfg RedisConfig) (*RedisLockStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return NewRedisLockStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisLockStoreWithClient creates a lock store on an existing client.
func NewRedisLockStoreWithClient(client RedisClient, prefix string) *RedisLockStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLockStore{client: client, prefix: prefix}
}

// Close closes the Redis client
func (s *RedisLockStore) Close() error {
	return s.client.Close()
}

func (s *RedisLockStore) key(stackID string) string {
	return s.prefix + stackID
}

// CreateLock sets the lock key if it does not exist, or reports its holder
func (s *RedisLockStore) CreateLock(ctx context.Context, stackID, engineID string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := s.client.SetNX(ctx, s.key(stackID), engineID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("failed to create stack lock: %w", err)
		}
		if ok {
			return "", nil
		}

		holder, err := s.client.Get(ctx, s.key(stackID)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read stack lock: %w", err)
		}
		return holder, nil
	}
	return "", fmt.Errorf("failed to create stack lock for %s: key keeps changing", stackID)
}

// StealLock moves a lock from oldEngineID to newEngineID
func (s *RedisLockStore) StealLock(ctx context.Context, stackID, oldEngineID, newEngineID string) (string, error) {
	res, err := stealScript.Run(ctx, s.client, []string{s.key(stackID)}, oldEngineID, newEngineID).Result()
	if err != nil {
		return "", fmt.Errorf("failed to steal stack lock: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == 1 {
			return "", nil
		}
		return "", lock.ErrLockNotFound
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("unexpected steal result %T", res)
	}
}

// ReleaseLock deletes the lock key if engineID holds it
func (s *RedisLockStore) ReleaseLock(ctx context.Context, stackID, engineID string) error {
	deleted, err := releaseScript.Run(ctx, s.client, []string{s.key(stackID)}, engineID).Int64()
	if err != nil {
		return fmt.Errorf("failed to release stack lock: %w", err)
	}
	if deleted == 0 {
		return lock.ErrLockNotFound
	}
	return nil
}
