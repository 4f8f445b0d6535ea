// Package rediscounter implements ports.CounterStore on Redis hashes.
// Each (day, scope) pair is one hash with fields "loss", "profit" and
// "trades"; increments are atomic on the server. Keys carry a TTL slightly
// longer than 24 hours, so counters expire on their own after the trading
// day ends and a restarted process sees the same day's totals.
package rediscounter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"optionsSentry/internal/ports"
)

// counterTTL tolerates timezone skew around the day boundary.
const counterTTL = 25 * time.Hour

// Store is a Redis-backed daily counter store.
type Store struct {
	rdb *redis.Client
}

// New creates a Store on the given Redis address and database.
func New(addr string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func counterKey(day, scope string) string {
	return "daily:" + day + ":" + scope
}

func (s *Store) incrFloat(ctx context.Context, day, scope, field string, amount float64) error {
	key := counterKey(day, scope)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrByFloat(ctx, key, field, amount)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: incr %s %s: %w", key, field, err)
	}
	return nil
}

// IncrLoss adds a positive loss magnitude to the scope's daily counter.
func (s *Store) IncrLoss(ctx context.Context, day, scope string, amount float64) error {
	return s.incrFloat(ctx, day, scope, "loss", amount)
}

// IncrProfit adds a positive profit magnitude to the scope's daily counter.
func (s *Store) IncrProfit(ctx context.Context, day, scope string, amount float64) error {
	return s.incrFloat(ctx, day, scope, "profit", amount)
}

// IncrTrades counts one trade for the scope.
func (s *Store) IncrTrades(ctx context.Context, day, scope string) error {
	key := counterKey(day, scope)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "trades", 1)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: incr %s trades: %w", key, err)
	}
	return nil
}

// Totals returns the counters for a scope; a missing key reads as zero.
func (s *Store) Totals(ctx context.Context, day, scope string) (ports.Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, counterKey(day, scope)).Result()
	if err != nil {
		return ports.Counters{}, fmt.Errorf("redis: totals %s/%s: %w", day, scope, err)
	}

	var c ports.Counters
	if v, ok := vals["loss"]; ok {
		if c.Loss, err = strconv.ParseFloat(v, 64); err != nil {
			return ports.Counters{}, fmt.Errorf("redis: parse loss %q: %w", v, err)
		}
	}
	if v, ok := vals["profit"]; ok {
		if c.Profit, err = strconv.ParseFloat(v, 64); err != nil {
			return ports.Counters{}, fmt.Errorf("redis: parse profit %q: %w", v, err)
		}
	}
	if v, ok := vals["trades"]; ok {
		if c.Trades, err = strconv.ParseInt(v, 10, 64); err != nil {
			return ports.Counters{}, fmt.Errorf("redis: parse trades %q: %w", v, err)
		}
	}
	return c, nil
}

// Reset deletes all counter keys for the given day.
func (s *Store) Reset(ctx context.Context, day string) error {
	iter := s.rdb.Scan(ctx, 0, "daily:"+day+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan day %s: %w", day, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: reset day %s: %w", day, err)
	}
	return nil
}

// Compile-time interface check.
var _ ports.CounterStore = (*Store)(nil)
