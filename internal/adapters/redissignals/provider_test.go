package redissignals

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishedFields(at time.Time) map[string]string {
	return map[string]string{
		"timeframe":            "5m",
		"structure_broken":     "1",
		"bars_since_high":      "3",
		"time_below_entry_sec": "90.5",
		"range_ratio":          "0.42",
		"updated_at_ms":        strconv.FormatInt(at.UnixMilli(), 10),
	}
}

func TestParseSignalFullHash(t *testing.T) {
	at := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	sig, err := parseSignal("NIFTY24SEP24800CE", publishedFields(at))
	require.NoError(t, err)

	assert.Equal(t, "NIFTY24SEP24800CE", sig.Symbol)
	assert.Equal(t, "5m", sig.Timeframe)
	assert.True(t, sig.StructureBroken)
	assert.Equal(t, 3, sig.BarsSinceHigh)
	assert.Equal(t, 90500*time.Millisecond, sig.TimeBelowEntry)
	assert.Equal(t, 0.42, sig.RangeRatio)
	assert.True(t, sig.UpdatedAt.Equal(at))
}

func TestParseSignalRejectsMalformedFields(t *testing.T) {
	cases := map[string]map[string]string{
		"bars":  {"bars_since_high": "three"},
		"below": {"time_below_entry_sec": "ninety"},
		"range": {"range_ratio": "n/a"},
		"stamp": {"updated_at_ms": "yesterday"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseSignal("NIFTY24SEP24800CE", fields)
			assert.Error(t, err)
		})
	}
}

func TestFreshnessWindow(t *testing.T) {
	now := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	maxAge := 3 * time.Minute

	recent, err := parseSignal("S", publishedFields(now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, fresh(recent, now, maxAge))

	boundary, err := parseSignal("S", publishedFields(now.Add(-maxAge)))
	require.NoError(t, err)
	assert.True(t, fresh(boundary, now, maxAge))

	// An hours-old structure break must read as no signal at all, never
	// as a live exit trigger.
	stale, err := parseSignal("S", publishedFields(now.Add(-2*time.Hour)))
	require.NoError(t, err)
	assert.False(t, fresh(stale, now, maxAge))
}

func TestFreshnessRequiresTimestamp(t *testing.T) {
	sig, err := parseSignal("S", map[string]string{"structure_broken": "1"})
	require.NoError(t, err)
	assert.False(t, fresh(sig, time.Now(), 3*time.Minute), "a signal that cannot prove its age is not actionable")
}
