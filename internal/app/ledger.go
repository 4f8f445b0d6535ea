package app

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger tracks the account's cash balance in rupees. Entries debit the
// full premium cost; exits credit cost plus realized PnL. Decimal
// arithmetic keeps repeated debit/credit cycles from drifting the way
// float accumulation would.
type Ledger struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// NewLedger creates a ledger seeded with the starting balance.
func NewLedger(initial float64) (*Ledger, error) {
	if initial <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %.2f", initial)
	}
	return &Ledger{balance: decimal.NewFromFloat(initial)}, nil
}

// OnEntry debits the premium cost of a new position.
func (l *Ledger) OnEntry(cost float64) error {
	if cost <= 0 {
		return fmt.Errorf("entry cost must be positive, got %.2f", cost)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	d := decimal.NewFromFloat(cost)
	if l.balance.LessThan(d) {
		return fmt.Errorf("insufficient balance: have %s, need %.2f", l.balance.StringFixed(2), cost)
	}
	l.balance = l.balance.Sub(d)
	return nil
}

// OnExit credits the exit proceeds: the original cost plus realized PnL.
func (l *Ledger) OnExit(entryCost, realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(decimal.NewFromFloat(entryCost)).Add(decimal.NewFromFloat(realizedPnL))
}

// Balance returns the current cash balance.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, _ := l.balance.Float64()
	return f
}
