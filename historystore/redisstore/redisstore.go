// Package redisstore persists dedupe keys and recent execution history to
// Redis via go-redis, letting a host application pre-seed a scan.Runner's
// DedupeIndex across process restarts (spec.md §4.G externalDedupeKeys) and
// keep a bounded recent-history log for quick lookups. Like historystore/sql,
// this is a host-owned sink; scan.Runner has no dependency on it.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caido-community/scanner/config"
	"github.com/caido-community/scanner/scan"
)

const (
	dedupeKeyPrefix   = "scanner:dedupe:"
	historyKeyPrefix  = "scanner:history:"
	historyMaxEntries = 500
)

// Store wraps a go-redis client for dedupe-key and history persistence.
type Store struct {
	client *redis.Client
}

// New connects to the Redis instance described by cfg.
func New(cfg config.RedisConfig) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}),
	}
}

// NewWithClient wraps an already-constructed client, e.g. one pointed at a
// miniredis instance in tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// SaveDedupeKeys persists checkID's claimed dedupe keys as a Redis set,
// so a later scan can load them into DedupeIndex.Seed for
// externalDedupeKeys continuity.
func (s *Store) SaveDedupeKeys(ctx context.Context, checkID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return s.client.SAdd(ctx, dedupeKeyPrefix+checkID, members...).Err()
}

// LoadDedupeKeys returns every dedupe key previously saved for checkID.
func (s *Store) LoadDedupeKeys(ctx context.Context, checkID string) ([]string, error) {
	return s.client.SMembers(ctx, dedupeKeyPrefix+checkID).Result()
}

// SaveDedupeIndex persists every check's dedupe keys from a DedupeIndex
// snapshot in one round of SAdd calls.
func (s *Store) SaveDedupeIndex(ctx context.Context, dedupe *scan.DedupeIndex) error {
	for checkID, keys := range dedupe.Snapshot() {
		if err := s.SaveDedupeKeys(ctx, checkID, keys); err != nil {
			return fmt.Errorf("save dedupe keys for %q: %w", checkID, err)
		}
	}
	return nil
}

// SeedDedupeIndex loads every known check's dedupe keys for checkIDs into
// dedupe via Seed, restoring cross-restart dedupe continuity.
func (s *Store) SeedDedupeIndex(ctx context.Context, dedupe *scan.DedupeIndex, checkIDs []string) error {
	for _, checkID := range checkIDs {
		keys, err := s.LoadDedupeKeys(ctx, checkID)
		if err != nil {
			return fmt.Errorf("load dedupe keys for %q: %w", checkID, err)
		}
		dedupe.Seed(checkID, keys)
	}
	return nil
}

// RecordHistory appends rec to a capped recent-history list for its target,
// trimming to historyMaxEntries.
func (s *Store) RecordHistory(ctx context.Context, rec scan.CheckExecutionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	key := historyKeyPrefix + rec.TargetRequestID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, historyMaxEntries-1)
	pipe.Expire(ctx, key, 7*24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentHistory returns up to limit of the most recently recorded
// executions for targetRequestID, newest first.
func (s *Store) RecentHistory(ctx context.Context, targetRequestID string, limit int64) ([]scan.CheckExecutionRecord, error) {
	raw, err := s.client.LRange(ctx, historyKeyPrefix+targetRequestID, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]scan.CheckExecutionRecord, 0, len(raw))
	for _, item := range raw {
		var rec scan.CheckExecutionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal execution record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
