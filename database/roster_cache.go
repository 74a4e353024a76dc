package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RosterSource interface {
	IsEnrolled(ctx context.Context, studentID, department, year string) (bool, error)
	RosterSize(ctx context.Context, department, year string) (int, error)
}

type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedRoster is a read-through Redis cache in front of a RosterSource.
// Only positive enrollment answers are cached, so a student added to the
// roster mid-term is seen on the next scan. A Redis failure degrades to
// the source.
type CachedRoster struct {
	source RosterSource
	client cacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRoster(source RosterSource, client cacheClient, ttl time.Duration) *CachedRoster {
	return &CachedRoster{
		source: source,
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("module", "roster_cache"),
	}
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (c *CachedRoster) IsEnrolled(ctx context.Context, studentID, department, year string) (bool, error) {
	key := "attendance:roster:enrolled:" + department + ":" + year + ":" + strings.TrimSpace(studentID)
	if _, ok := c.get(ctx, key); ok {
		return true, nil
	}
	enrolled, err := c.source.IsEnrolled(ctx, studentID, department, year)
	if err != nil || !enrolled {
		return enrolled, err
	}
	c.set(ctx, key, "1")
	return true, nil
}

func (c *CachedRoster) RosterSize(ctx context.Context, department, year string) (int, error) {
	key := "attendance:roster:size:" + department + ":" + year
	if raw, ok := c.get(ctx, key); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			return n, nil
		}
	}
	n, err := c.source.RosterSize(ctx, department, year)
	if err != nil {
		return 0, err
	}
	c.set(ctx, key, strconv.Itoa(n))
	return n, nil
}

func (c *CachedRoster) get(ctx context.Context, key string) (string, bool) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "roster cache read failed", "key", key, "error", err)
		return "", false
	}
	return raw, true
}

func (c *CachedRoster) set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "roster cache write failed", "key", key, "error", err)
	}
}
