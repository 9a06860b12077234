package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"flux/config"
	"flux/models"
)

// CacheMode indicates which cache backend is active
type CacheMode string

const (
	CacheModeRedis    CacheMode = "redis"
	CacheModeInMemory CacheMode = "in-memory"
)

const latestKeyPattern = "snapshot:latest:*"

// CacheItem for in-memory fallback
type CacheItem struct {
	Snapshot  *models.MetricsSnapshot
	ExpiresAt time.Time
}

// LatestSnapshotCache keeps the newest snapshot of each tier. Redis is used
// while reachable; otherwise entries live in process memory until Redis
// comes back, at which point they are copied over.
type LatestSnapshotCache struct {
	cfg *config.Config

	// Redis
	redis       *redis.Client
	redisCtx    context.Context
	redisCancel context.CancelFunc
	mode        CacheMode
	modeMutex   sync.RWMutex

	// In-memory fallback
	inMemoryStore sync.Map

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewLatestSnapshotCache(cfg *config.Config) *LatestSnapshotCache {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &LatestSnapshotCache{
		cfg:         cfg,
		redisCtx:    ctx,
		redisCancel: cancel,
		stopChan:    make(chan struct{}),
		mode:        CacheModeInMemory,
	}

	if cfg.Redis.Enabled {
		cs.connectRedis()
	} else {
		log.Println("Redis disabled in config, using in-memory cache only")
	}

	return cs
}

func (cs *LatestSnapshotCache) connectRedis() {
	if cs.cfg.Redis.Address == "" {
		log.Println("Redis address not configured, using in-memory cache")
		return
	}

	options := &redis.Options{
		Addr:         cs.cfg.Redis.Address,
		Password:     cs.cfg.Redis.Password,
		DB:           cs.cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   2,
	}

	if cs.cfg.Redis.UseTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		log.Printf("TLS enabled for Redis connection")
	}

	cs.redis = redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pong, err := cs.redis.Ping(ctx).Result()
	if err != nil {
		log.Printf("⚠️  Redis connection failed: %v", err)
		log.Printf("⚠️  Running in IN-MEMORY mode")
		cs.setMode(CacheModeInMemory)
		return
	}

	log.Printf("✓ Redis connected successfully (response: %s)", pong)
	cs.setMode(CacheModeRedis)
}

func (cs *LatestSnapshotCache) setMode(mode CacheMode) {
	cs.modeMutex.Lock()
	defer cs.modeMutex.Unlock()

	if cs.mode != mode {
		cs.mode = mode
		log.Printf("Cache mode changed: %s", mode)
	}
}

func (cs *LatestSnapshotCache) getMode() CacheMode {
	cs.modeMutex.RLock()
	defer cs.modeMutex.RUnlock()
	return cs.mode
}

// StartHealthCheck watches Redis and switches modes in the background
func (cs *LatestSnapshotCache) StartHealthCheck() {
	if cs.redis == nil {
		return
	}
	go cs.runHealthCheckLoop(cs.cfg.RedisHealthCheckInterval())
}

func (cs *LatestSnapshotCache) Stop() {
	cs.stopOnce.Do(func() {
		close(cs.stopChan)
		cs.redisCancel()
		if cs.redis != nil {
			cs.redis.Close()
		}
	})
}

func (cs *LatestSnapshotCache) runHealthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.checkRedisHealth()
		case <-cs.stopChan:
			return
		}
	}
}

func (cs *LatestSnapshotCache) checkRedisHealth() {
	if cs.redis == nil {
		return
	}

	ctx, cancel := context.WithTimeout(cs.redisCtx, 2*time.Second)
	defer cancel()
	_, err := cs.redis.Ping(ctx).Result()

	switch cs.getMode() {
	case CacheModeRedis:
		if err != nil {
			log.Printf("⚠️  Redis health check failed: %v", err)
			cs.setMode(CacheModeInMemory)
		}
	case CacheModeInMemory:
		if err == nil {
			log.Printf("✓ Redis reconnected, switching back to Redis mode")
			cs.syncInMemoryToRedis()
			cs.setMode(CacheModeRedis)
		}
	}
}

func (cs *LatestSnapshotCache) syncInMemoryToRedis() {
	synced := 0
	cs.inMemoryStore.Range(func(key, value interface{}) bool {
		item := value.(*CacheItem)
		if ttl := time.Until(item.ExpiresAt); ttl > 0 {
			if err := cs.setRedis(key.(string), item.Snapshot, ttl); err == nil {
				synced++
			}
		}
		return true
	})
	log.Printf("Synced %d cached snapshots to Redis", synced)
}

// ============================================
// Snapshot Set/Get
// ============================================

// SetLatest stores snapshot as the newest of its tier. Entries expire after two
// windows so a stalled tier stops being served from cache.
func (cs *LatestSnapshotCache) SetLatest(_ context.Context, snapshot *models.MetricsSnapshot) {
	tier, err := models.LookupTier(snapshot.Tier)
	if err != nil {
		log.Printf("Cache: refusing snapshot with %v", err)
		return
	}

	key := tier.CacheKey()
	ttl := 2 * tier.Window

	if cs.getMode() == CacheModeRedis {
		if err := cs.setRedis(key, snapshot, ttl); err != nil {
			log.Printf("Redis SET failed for '%s': %v (falling back to in-memory)", key, err)
			cs.setInMemory(key, snapshot, ttl)
		}
		return
	}
	cs.setInMemory(key, snapshot, ttl)
}

func (cs *LatestSnapshotCache) GetLatest(_ context.Context, tier models.Tier) (*models.MetricsSnapshot, bool) {
	key := tier.CacheKey()

	if cs.getMode() == CacheModeRedis {
		snap, found, err := cs.getRedis(key)
		if err == nil {
			return snap, found
		}
		log.Printf("Redis GET failed for '%s': %v", key, err)
	}
	return cs.getInMemory(key)
}

func (cs *LatestSnapshotCache) setRedis(key string, snapshot *models.MetricsSnapshot, ttl time.Duration) error {
	if cs.redis == nil {
		return fmt.Errorf("redis client not initialized")
	}

	ctx, cancel := context.WithTimeout(cs.redisCtx, 2*time.Second)
	defer cancel()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return cs.redis.Set(ctx, key, data, ttl).Err()
}

func (cs *LatestSnapshotCache) getRedis(key string) (*models.MetricsSnapshot, bool, error) {
	if cs.redis == nil {
		return nil, false, fmt.Errorf("redis client not initialized")
	}

	ctx, cancel := context.WithTimeout(cs.redisCtx, 2*time.Second)
	defer cancel()

	data, err := cs.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap models.MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal failed: %w", err)
	}
	return &snap, true, nil
}

func (cs *LatestSnapshotCache) setInMemory(key string, snapshot *models.MetricsSnapshot, ttl time.Duration) {
	cs.inMemoryStore.Store(key, &CacheItem{
		Snapshot:  snapshot,
		ExpiresAt: time.Now().Add(ttl),
	})
}

func (cs *LatestSnapshotCache) getInMemory(key string) (*models.MetricsSnapshot, bool) {
	val, ok := cs.inMemoryStore.Load(key)
	if !ok {
		return nil, false
	}

	item := val.(*CacheItem)
	if time.Now().After(item.ExpiresAt) {
		cs.inMemoryStore.Delete(key)
		return nil, false
	}
	return item.Snapshot, true
}

// ============================================
// Utility Methods
// ============================================

func (cs *LatestSnapshotCache) GetCacheMode() CacheMode {
	return cs.getMode()
}

func (cs *LatestSnapshotCache) ClearCache() error {
	if cs.getMode() == CacheModeRedis && cs.redis != nil {
		ctx, cancel := context.WithTimeout(cs.redisCtx, 5*time.Second)
		defer cancel()

		deleted := 0
		iter := cs.redis.Scan(ctx, 0, latestKeyPattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := cs.redis.Del(ctx, iter.Val()).Err(); err == nil {
				deleted++
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan cached snapshots: %w", err)
		}
		log.Printf("Redis cache cleared (%d keys deleted)", deleted)
	}

	cs.inMemoryStore.Range(func(key, _ interface{}) bool {
		cs.inMemoryStore.Delete(key)
		return true
	})
	log.Println("In-memory cache cleared")

	return nil
}

func (cs *LatestSnapshotCache) GetCacheStats() map[string]interface{} {
	stats := map[string]interface{}{
		"mode":    string(cs.getMode()),
		"enabled": cs.cfg.Redis.Enabled,
	}

	if cs.getMode() == CacheModeRedis && cs.redis != nil {
		ctx, cancel := context.WithTimeout(cs.redisCtx, 2*time.Second)
		defer cancel()

		if keys, err := cs.redis.Keys(ctx, latestKeyPattern).Result(); err == nil {
			stats["redis_keys"] = len(keys)
		}
	}

	inMemCount := 0
	cs.inMemoryStore.Range(func(_, _ interface{}) bool {
		inMemCount++
		return true
	})
	stats["in_memory_keys"] = inMemCount

	return stats
}
