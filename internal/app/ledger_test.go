package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRoundTrip(t *testing.T) {
	l, err := NewLedger(100000)
	require.NoError(t, err)

	// Buy 50 units at ₹20 premium, exit with ₹200 profit:
	// 100,000 -> 99,000 -> 100,200.
	require.NoError(t, l.OnEntry(1000))
	assert.Equal(t, 99000.0, l.Balance())

	l.OnExit(1000, 200)
	assert.Equal(t, 100200.0, l.Balance())
}

func TestLedgerLosingExit(t *testing.T) {
	l, err := NewLedger(100000)
	require.NoError(t, err)

	require.NoError(t, l.OnEntry(5000))
	l.OnExit(5000, -1250.50)
	assert.Equal(t, 98749.50, l.Balance())
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	l, err := NewLedger(1000)
	require.NoError(t, err)

	require.Error(t, l.OnEntry(1500))
	assert.Equal(t, 1000.0, l.Balance(), "failed entry must not move the balance")
}

func TestLedgerRejectsBadInputs(t *testing.T) {
	_, err := NewLedger(0)
	assert.Error(t, err)
	_, err = NewLedger(-5)
	assert.Error(t, err)

	l, err := NewLedger(1000)
	require.NoError(t, err)
	assert.Error(t, l.OnEntry(0))
	assert.Error(t, l.OnEntry(-10))
}

func TestLedgerManyCyclesDoNotDrift(t *testing.T) {
	l, err := NewLedger(100000)
	require.NoError(t, err)

	// 1,000 break-even round trips with awkward decimals must land back
	// exactly on the starting balance.
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.OnEntry(333.33))
		l.OnExit(333.33, 0)
	}
	assert.Equal(t, 100000.0, l.Balance())
}
