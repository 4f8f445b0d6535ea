// Package redissignals reads the entry subsystem's published signal state
// out of Redis. The entry side writes one hash per contract; this engine
// only ever reads.
package redissignals

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

// DefaultMaxAge bounds how old a published signal may be before it is
// treated as absent. Signals refresh on bar close, so a few bar widths of
// slack is enough; anything older describes a market that no longer exists.
const DefaultMaxAge = 3 * time.Minute

// Provider implements ports.SignalProvider over Redis hashes keyed
// "signals:{symbol}".
type Provider struct {
	rdb    *redis.Client
	maxAge time.Duration
	now    func() time.Time
}

// New creates a provider with its own Redis connection. A non-positive
// maxAge falls back to DefaultMaxAge.
func New(addr string, db int, maxAge time.Duration) *Provider {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr, DB: db}), maxAge)
}

// NewFromClient creates a provider on an existing Redis client.
func NewFromClient(rdb *redis.Client, maxAge time.Duration) *Provider {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Provider{rdb: rdb, maxAge: maxAge, now: time.Now}
}

func key(symbol string) string { return "signals:" + symbol }

// Latest returns the most recent signal state for a contract, or nil, nil
// when the entry subsystem has not published one or the published state has
// gone stale. A stale structure flag must not close a fresh position, so
// age past the window reads the same as no signal at all.
func (p *Provider) Latest(ctx context.Context, symbol string) (*domain.SignalState, error) {
	fields, err := p.rdb.HGetAll(ctx, key(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("read signals for %s: %w", symbol, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sig, err := parseSignal(symbol, fields)
	if err != nil {
		return nil, err
	}
	if !fresh(sig, p.now(), p.maxAge) {
		return nil, nil
	}
	return sig, nil
}

// fresh reports whether the signal is recent enough to act on. A signal
// without a publish timestamp cannot prove its age and is treated as stale.
func fresh(sig *domain.SignalState, now time.Time, maxAge time.Duration) bool {
	if sig.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(sig.UpdatedAt) <= maxAge
}

func parseSignal(symbol string, fields map[string]string) (*domain.SignalState, error) {
	sig := &domain.SignalState{Symbol: symbol}
	if v, ok := fields["timeframe"]; ok {
		sig.Timeframe = v
	}
	if v, ok := fields["structure_broken"]; ok {
		sig.StructureBroken = v == "1" || v == "true"
	}
	if v, ok := fields["bars_since_high"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("signals for %s: bad bars_since_high %q", symbol, v)
		}
		sig.BarsSinceHigh = n
	}
	if v, ok := fields["time_below_entry_sec"]; ok {
		sec, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("signals for %s: bad time_below_entry_sec %q", symbol, v)
		}
		sig.TimeBelowEntry = time.Duration(sec * float64(time.Second))
	}
	if v, ok := fields["range_ratio"]; ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("signals for %s: bad range_ratio %q", symbol, v)
		}
		sig.RangeRatio = r
	}
	if v, ok := fields["updated_at_ms"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("signals for %s: bad updated_at_ms %q", symbol, v)
		}
		sig.UpdatedAt = time.UnixMilli(ms)
	}
	return sig, nil
}

// Compile-time interface check.
var _ ports.SignalProvider = (*Provider)(nil)
