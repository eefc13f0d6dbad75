package policy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgate/internal/domain"
)

const (
	warmupLockTTL    = 30 * time.Second
	snapshotCacheTTL = 5 * time.Minute
)

// SnapshotCache — L2-кэш сериализованного набора правил (Redis).
// GetSnapshot возвращает (nil, nil) при отсутствии записи.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context) ([]byte, error)
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	PutSnapshot(ctx context.Context, payload []byte, ttl time.Duration) error
}

// cachedRuleSet — формат записи в L2. Дефолтный эффект не сериализуется:
// он задается конфигом инстанса, а не данными.
type cachedRuleSet struct {
	Rules   []domain.PolicyRule      `json:"rules"`
	Budgets map[string]domain.Budget `json:"budgets"`
}

// Warmup — первичная загрузка снапшота при старте. L1 (RAM) наполняется
// всегда: из L2, если там лежит копия от предыдущего прогрева, иначе
// холодной загрузкой из БД. Заливку L2 выполняет только победитель
// SetNX-лока, чтобы массовый рестарт флота не превращался в шторм
// одинаковых записей в Redis.
func (s *Store) Warmup(ctx context.Context, cache SnapshotCache) error {
	raw, err := cache.GetSnapshot(ctx)
	switch {
	case err != nil:
		s.logger.Warn("snapshot cache unreachable, loading from DB", zap.Error(err))
	case raw != nil:
		if s.installCached(raw) {
			return nil
		}
	}

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	ok, err := cache.TryLock(ctx, warmupLockTTL)
	if err != nil || !ok {
		// Либо ошибка сети, либо кэш уже наполняет другой инстанс;
		// свой снапшот в памяти, этого достаточно
		return nil
	}

	snap := s.Current()
	payload, err := json.Marshal(cachedRuleSet{Rules: snap.Rules(), Budgets: snap.Budgets()})
	if err != nil {
		return nil
	}
	if err := cache.PutSnapshot(ctx, payload, snapshotCacheTTL); err != nil {
		s.logger.Warn("snapshot cache fill failed", zap.Error(err))
	}
	return nil
}

// installCached собирает снапшот из L2-записи. Битая или невалидная
// запись не устанавливается: false означает "иди в БД".
func (s *Store) installCached(raw []byte) bool {
	var cached cachedRuleSet
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.Warn("cached rule snapshot is corrupted, loading from DB", zap.Error(err))
		return false
	}
	snap, err := NewSnapshot(cached.Rules, cached.Budgets, s.defaultEffect)
	if err != nil {
		s.logger.Warn("cached rule snapshot is invalid, loading from DB", zap.Error(err))
		return false
	}
	s.Replace(snap)
	return true
}

// RedisSnapshotCache — реализация SnapshotCache поверх go-redis.
type RedisSnapshotCache struct {
	rdb      *redis.Client
	cacheKey string
	lockKey  string
}

func NewRedisSnapshotCache(rdb *redis.Client, cacheKey, lockKey string) *RedisSnapshotCache {
	return &RedisSnapshotCache{rdb: rdb, cacheKey: cacheKey, lockKey: lockKey}
}

func (c *RedisSnapshotCache) GetSnapshot(ctx context.Context) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, c.cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *RedisSnapshotCache) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.lockKey, "processing", ttl).Result()
}

func (c *RedisSnapshotCache) PutSnapshot(ctx context.Context, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.cacheKey, payload, ttl).Err()
}
