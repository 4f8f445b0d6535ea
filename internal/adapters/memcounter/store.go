// Package memcounter provides an in-process ports.CounterStore. It backs
// the governor in tests and in single-process deployments without Redis.
// Rupee amounts are accumulated as decimals so a long day of increments
// cannot drift.
package memcounter

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"optionsSentry/internal/ports"
)

type bucket struct {
	loss   decimal.Decimal
	profit decimal.Decimal
	trades int64
}

// Store is an in-memory counter store keyed by (day, scope).
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates an empty Store.
func New() *Store {
	return &Store{buckets: make(map[string]*bucket)}
}

func key(day, scope string) string {
	return day + "|" + scope
}

func (s *Store) get(day, scope string) *bucket {
	k := key(day, scope)
	b, ok := s.buckets[k]
	if !ok {
		b = &bucket{}
		s.buckets[k] = b
	}
	return b
}

// IncrLoss adds a positive loss magnitude to the scope's daily counter.
func (s *Store) IncrLoss(ctx context.Context, day, scope string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(day, scope)
	b.loss = b.loss.Add(decimal.NewFromFloat(amount))
	return nil
}

// IncrProfit adds a positive profit magnitude to the scope's daily counter.
func (s *Store) IncrProfit(ctx context.Context, day, scope string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(day, scope)
	b.profit = b.profit.Add(decimal.NewFromFloat(amount))
	return nil
}

// IncrTrades counts one trade for the scope.
func (s *Store) IncrTrades(ctx context.Context, day, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(day, scope).trades++
	return nil
}

// Totals returns the counters for a scope; an untouched scope reads as zero.
func (s *Store) Totals(ctx context.Context, day, scope string) (ports.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key(day, scope)]
	if !ok {
		return ports.Counters{}, nil
	}
	loss, _ := b.loss.Float64()
	profit, _ := b.profit.Float64()
	return ports.Counters{Loss: loss, Profit: profit, Trades: b.trades}, nil
}

// Reset removes all counters for the given day.
func (s *Store) Reset(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.buckets {
		if len(k) >= len(day) && k[:len(day)] == day {
			delete(s.buckets, k)
		}
	}
	return nil
}

// Compile-time interface check.
var _ ports.CounterStore = (*Store)(nil)
