// Package cache содержит Redis-кэш таблицы лидеров.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkovalev/kudos-system/internal/model"
)

const (
	// keyPrefix - префикс ключей кэша таблицы лидеров; ключ включает limit запроса.
	keyPrefix = "leaderboard:top:"

	defaultTTL = 30 * time.Second
)

// LeaderboardCache кэширует выдачу таблицы лидеров в Redis. Записи живут
// недолго и дополнительно сбрасываются при создании признаний и одобрений.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaderboardCache создаёт кэш поверх Redis по указанному адресу.
func NewLeaderboardCache(addr string) *LeaderboardCache {
	return &LeaderboardCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    defaultTTL,
	}
}

// Ping проверяет доступность Redis.
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

func key(limit int) string {
	return fmt.Sprintf("%s%d", keyPrefix, limit)
}

// Get возвращает закэшированную таблицу лидеров для указанного limit.
// Второй результат false означает промах кэша.
func (c *LeaderboardCache) Get(ctx context.Context, limit int) ([]model.LeaderboardEntry, bool, error) {
	raw, err := c.client.Get(ctx, key(limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get leaderboard cache: %w", err)
	}

	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Повреждённая запись равносильна промаху.
		return nil, false, nil
	}

	return entries, true, nil
}

// Set сохраняет таблицу лидеров для указанного limit.
func (c *LeaderboardCache) Set(ctx context.Context, limit int, entries []model.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	if err := c.client.Set(ctx, key(limit), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set leaderboard cache: %w", err)
	}

	return nil
}

// Invalidate удаляет все закэшированные варианты таблицы лидеров.
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan leaderboard keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete leaderboard keys: %w", err)
	}

	return nil
}
