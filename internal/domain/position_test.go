package domain

import (
	"sync"
	"testing"
	"time"
)

func TestPositionLifecyclePredicates(t *testing.T) {
	pos := &Position{Status: StatusActive}
	if !pos.IsActive() {
		t.Error("active position should report active")
	}
	if pos.IsTerminal() {
		t.Error("active position is not terminal")
	}

	pos.Status = StatusExiting
	if pos.IsActive() {
		t.Error("exiting position is no longer active")
	}
	if pos.IsTerminal() {
		t.Error("exiting position is not yet terminal")
	}

	pos.Status = StatusExited
	if !pos.IsTerminal() {
		t.Error("exited position should be terminal")
	}
	pos.Status = StatusCancelled
	if !pos.IsTerminal() {
		t.Error("cancelled position should be terminal")
	}
}

func TestCommitHighWaterMark(t *testing.T) {
	pos := &Position{ID: 1, HighWaterMarkPct: 5.0}

	raised, err := pos.CommitHighWaterMark(7.5)
	if err != nil || !raised {
		t.Fatalf("expected raise, got raised=%v err=%v", raised, err)
	}
	if pos.HighWaterMarkPct != 7.5 {
		t.Errorf("mark not committed: %f", pos.HighWaterMarkPct)
	}

	raised, err = pos.CommitHighWaterMark(7.5)
	if err != nil || raised {
		t.Fatalf("equal mark should be a no-op, got raised=%v err=%v", raised, err)
	}

	// A decrease is an invariant violation and must not be absorbed.
	raised, err = pos.CommitHighWaterMark(6.0)
	if err == nil {
		t.Fatal("expected error on high-water-mark decrease")
	}
	if raised || pos.HighWaterMarkPct != 7.5 {
		t.Errorf("failed commit must leave the mark untouched, got %f", pos.HighWaterMarkPct)
	}
}

func TestPositionAge(t *testing.T) {
	entry := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	pos := &Position{EntryTime: entry}
	if got := pos.Age(entry.Add(25 * time.Minute)); got != 25*time.Minute {
		t.Errorf("expected 25m age, got %v", got)
	}
}

func TestPnLPercent(t *testing.T) {
	if got := PnLPercent(500, 5000); got != 10.0 {
		t.Errorf("expected 10%%, got %f", got)
	}
	if got := PnLPercent(-250, 5000); got != -5.0 {
		t.Errorf("expected -5%%, got %f", got)
	}
	if got := PnLPercent(100, 0); got != 0 {
		t.Errorf("zero entry cost must yield 0, got %f", got)
	}
}

func TestPositionConcurrentAccess(t *testing.T) {
	pos := &Position{
		ID:         1,
		Symbol:     "NIFTY24SEP24800CE",
		Class:      ClassNifty,
		EntryPrice: 100,
		Quantity:   50,
		EntryCost:  5000,
		EntryTime:  time.Now(),
		Status:     StatusActive,
	}

	// A dispatch worker flips lifecycle state while the loop and the feed
	// goroutine read it; run under -race.
	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 500; i++ {
			pos.SetStatus(StatusExiting)
			pos.SetStatus(StatusActive)
			_, _ = pos.CommitHighWaterMark(float64(i) / 100)
			if i == 250 {
				pos.LockBreakeven()
			}
		}
		pos.MarkExited(110, time.Now(), 500, "target")
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				_ = pos.IsActive()
				_ = pos.IsTerminal()
				_ = pos.PeakPct()
				_ = pos.IsBreakevenLocked()
				_ = pos.Record()
			}
		}()
	}

	close(start)
	wg.Wait()

	if !pos.IsTerminal() {
		t.Error("position should be exited after the writer finishes")
	}
	rec := pos.Record()
	if rec.ExitPrice != 110 || rec.RealizedPnL != 500 {
		t.Errorf("exit fields not committed atomically: %+v", rec)
	}
	if !rec.BreakevenLocked || rec.StopPrice != pos.EntryPrice {
		t.Error("breakeven lock should have armed the stop at entry")
	}
}
