package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// KeyPrefix namespaces level entries in Redis.
const KeyPrefix = "stock:level:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis caches levels as JSON with a TTL. Invalidation is a synchronous DEL;
// the TTL bounds how long a missed invalidation can serve stale data.
type Redis struct {
	client     *redis.Client
	ownsClient bool
	ttl        time.Duration
	logger     *zap.Logger
}

type redisLevel struct {
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	OnHand      int64  `json:"on_hand"`
	Reserved    int64  `json:"reserved"`
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisWithClient(client, cfg.TTL, logger)
	c.ownsClient = true
	return c, nil
}

// NewRedisWithClient uses an existing client. The caller keeps ownership.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func redisKey(k inventory.StockKey) string {
	return KeyPrefix + string(k.WarehouseID) + ":" + string(k.ProductID)
}

func (r *Redis) Get(ctx context.Context, key inventory.StockKey) (inventory.StockLevel, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return inventory.StockLevel{}, false, nil
	}
	if err != nil {
		return inventory.StockLevel{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var v redisLevel
	if err := json.Unmarshal(raw, &v); err != nil {
		// A corrupt entry is a miss; drop it so the next read refills.
		r.logger.Warn("discarding corrupt level cache entry", zap.String("key", key.String()), zap.Error(err))
		r.client.Del(ctx, redisKey(key))
		return inventory.StockLevel{}, false, nil
	}
	return inventory.StockLevel{Key: key, OnHand: v.OnHand, Reserved: v.Reserved}, true, nil
}

func (r *Redis) Set(ctx context.Context, level inventory.StockLevel) error {
	raw, err := json.Marshal(redisLevel{
		ProductID:   string(level.Key.ProductID),
		WarehouseID: string(level.Key.WarehouseID),
		OnHand:      level.OnHand,
		Reserved:    level.Reserved,
	})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(level.Key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", level.Key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, keys ...inventory.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = redisKey(k)
	}
	if err := r.client.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client if this cache created it.
func (r *Redis) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

var _ inventory.LevelCache = (*Redis)(nil)
