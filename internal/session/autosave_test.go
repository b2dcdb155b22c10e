package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func waitForSaves(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d saves, got %d", want, counter.Load())
}

func TestAutosaveCoalescesBurst(t *testing.T) {
	var saves atomic.Int64
	a := NewAutosave(time.Hour, 50*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	}, zerolog.Nop())
	a.Start(context.Background())
	defer a.Stop()

	// A typing burst inside the debounce window flushes exactly once.
	for i := 0; i < 10; i++ {
		a.MarkDirty()
		time.Sleep(2 * time.Millisecond)
	}
	waitForSaves(t, &saves, 1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), saves.Load())
}

func TestAutosaveSeparateEditsSeparateWrites(t *testing.T) {
	var saves atomic.Int64
	a := NewAutosave(time.Hour, 10*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	}, zerolog.Nop())
	a.Start(context.Background())
	defer a.Stop()

	a.MarkDirty()
	waitForSaves(t, &saves, 1)

	a.MarkDirty()
	waitForSaves(t, &saves, 2)
}

func TestAutosaveStopDrainsPending(t *testing.T) {
	var saves atomic.Int64
	a := NewAutosave(time.Hour, time.Hour, func(context.Context) error {
		saves.Add(1)
		return nil
	}, zerolog.Nop())
	a.Start(context.Background())

	// Debounce is huge, so the dirty flag is still pending when Stop runs.
	// Stop must flush it before returning.
	a.MarkDirty()
	time.Sleep(10 * time.Millisecond)
	a.Stop()
	assert.Equal(t, int64(1), saves.Load())
}

func TestAutosaveStopWithNothingPending(t *testing.T) {
	var saves atomic.Int64
	a := NewAutosave(time.Hour, time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	}, zerolog.Nop())
	a.Start(context.Background())

	a.MarkDirty()
	waitForSaves(t, &saves, 1)

	a.Stop()
	assert.Equal(t, int64(1), saves.Load())
}

func TestAutosaveRetriesAfterFailure(t *testing.T) {
	var saves atomic.Int64
	var failing atomic.Bool
	failing.Store(true)

	a := NewAutosave(time.Hour, time.Millisecond, func(context.Context) error {
		saves.Add(1)
		if failing.Load() {
			return errors.New("store down")
		}
		return nil
	}, zerolog.Nop())
	a.Start(context.Background())
	defer a.Stop()

	a.MarkDirty()
	waitForSaves(t, &saves, 1)

	// Store comes back; the pending flush retries on backoff without a new
	// dirty signal.
	failing.Store(false)
	waitForSaves(t, &saves, 2)
}

func TestAutosaveStopNeverStarted(t *testing.T) {
	a := NewAutosave(time.Hour, time.Millisecond, func(context.Context) error {
		return nil
	}, zerolog.Nop())
	// Must not hang.
	a.Stop()
}
