package readmodel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/redis/go-redis/v9"
)

const activityKeyPrefix = "activity"

// RedisActivityStore keeps one hash per stream plus a set indexing them.
type RedisActivityStore struct {
	rc     *redis.Client
	prefix string
}

func NewRedisActivityStore(rc *redis.Client, prefix string) *RedisActivityStore {
	if prefix == "" {
		prefix = activityKeyPrefix
	}
	return &RedisActivityStore{rc: rc, prefix: prefix}
}

func (s *RedisActivityStore) rowKey(key event.StreamKey) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, key.TenantID, key.AggregateType, key.AggregateID)
}

func (s *RedisActivityStore) indexKey() string {
	return s.prefix + ":index"
}

// Record updates the row under WATCH so concurrent writers cannot both
// count the same version.
func (s *RedisActivityStore) Record(ctx context.Context, e event.StoredEvent) error {
	key := e.Key()
	rowKey := s.rowKey(key)

	err := s.rc.Watch(ctx, func(tx *redis.Tx) error {
		last, err := tx.HGet(ctx, rowKey, "last_version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && e.Version <= last {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, rowKey, "event_count", 1)
			pipe.HSet(ctx, rowKey,
				"tenant_id", key.TenantID,
				"aggregate_type", key.AggregateType,
				"aggregate_id", key.AggregateID,
				"last_event_type", e.EventType,
				"last_version", e.Version,
				"last_occurred_at", e.OccurredAt.UTC().Format(time.RFC3339Nano),
			)
			pipe.SAdd(ctx, s.indexKey(), rowKey)
			return nil
		})
		return err
	}, rowKey)
	if err != nil {
		return fmt.Errorf("record activity %s: %w", key, err)
	}
	return nil
}

func (s *RedisActivityStore) Get(ctx context.Context, key event.StreamKey) (ActivitySummary, error) {
	fields, err := s.rc.HGetAll(ctx, s.rowKey(key)).Result()
	if err != nil {
		return ActivitySummary{}, fmt.Errorf("read activity %s: %w", key, err)
	}
	if len(fields) == 0 {
		return ActivitySummary{}, ErrActivityNotFound
	}

	summary := ActivitySummary{
		TenantID:      key.TenantID,
		AggregateType: key.AggregateType,
		AggregateID:   key.AggregateID,
		LastEventType: fields["last_event_type"],
	}
	if summary.EventCount, err = strconv.ParseInt(fields["event_count"], 10, 64); err != nil {
		return ActivitySummary{}, fmt.Errorf("activity %s: event_count: %w", key, err)
	}
	if summary.LastVersion, err = strconv.ParseInt(fields["last_version"], 10, 64); err != nil {
		return ActivitySummary{}, fmt.Errorf("activity %s: last_version: %w", key, err)
	}
	if summary.LastOccurredAt, err = time.Parse(time.RFC3339Nano, fields["last_occurred_at"]); err != nil {
		return ActivitySummary{}, fmt.Errorf("activity %s: last_occurred_at: %w", key, err)
	}
	summary.LastOccurredAt = summary.LastOccurredAt.UTC()
	return summary, nil
}

func (s *RedisActivityStore) Clear(ctx context.Context) error {
	keys, err := s.rc.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("list activity rows: %w", err)
	}
	keys = append(keys, s.indexKey())
	if err := s.rc.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear activity rows: %w", err)
	}
	return nil
}
