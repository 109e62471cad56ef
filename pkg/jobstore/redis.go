package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/logging"
)

// redisKeyPrefix namespaces job records in a shared Redis instance.
const redisKeyPrefix = "mallsync:jobs:"

// redisSafetyTTL bounds a record's life even if the sweeper never runs
// (e.g. a crashed writer leaves a non-terminal record behind).
const redisSafetyTTL = 24 * time.Hour

// RedisRepository stores job records as JSON in Redis. Any process that can
// reach the same instance can poll any job, which is what makes job start
// and status poll safe to serve from different processes.
type RedisRepository struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewRedisRepository creates a Redis-backed repository.
func NewRedisRepository(redisClient *redis.Client) *RedisRepository {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisRepository{
		redis:  redisClient,
		logger: logging.NewLogger("jobstore-redis"),
	}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

// Create stores a new record, refusing to overwrite an existing id.
func (r *RedisRepository) Create(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	ok, err := r.redis.SetNX(ctx, redisKey(rec.JobID), data, redisSafetyTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.JobID)
	}
	return nil
}

// Get retrieves a record by job id.
func (r *RedisRepository) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := r.redis.Get(ctx, redisKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

// Save overwrites a record, preserving the safety TTL.
func (r *RedisRepository) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := r.redis.Set(ctx, redisKey(rec.JobID), data, redisSafetyTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Sweep scans all job keys and deletes terminal records that ended before
// cutoff. SCAN keeps the pass incremental on a shared instance.
func (r *RedisRepository) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	iter := r.redis.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := r.redis.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return deleted, fmt.Errorf("redis get %s: %w", key, err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Warn().Str("key", key).Err(err).Msg("Deleting unreadable job record")
			_ = r.redis.Del(ctx, key).Err()
			deleted++
			continue
		}

		if rec.Status.Terminal() && rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			if err := r.redis.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("redis del %s: %w", key, err)
			}
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	return deleted, nil
}
