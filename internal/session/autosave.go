package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Autosave persists in-progress answers without blocking the student. It
// flushes on a fixed interval and on dirty triggers, with three guarantees:
//
//   - at most one save is in flight per session; a dirty trigger during a
//     save is coalesced into the next flush, never queued behind it
//   - a failed save retries with backoff and never blocks further edits
//   - Stop performs a final flush and returns only once the loop has drained,
//     so the submit path can write without racing an autosave
type Autosave struct {
	interval time.Duration
	debounce time.Duration
	save     func(ctx context.Context) error
	log      zerolog.Logger

	dirty chan struct{} // buffered(1): pending-flush flag, not a queue

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewAutosave builds a controller around a save callback. The callback must
// snapshot state itself; it is invoked from the controller's goroutine only.
func NewAutosave(interval, debounce time.Duration, save func(ctx context.Context) error, log zerolog.Logger) *Autosave {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Autosave{
		interval: interval,
		debounce: debounce,
		save:     save,
		log:      log,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Autosave) Start(ctx context.Context) {
	a.started = true
	go a.run(ctx)
}

// MarkDirty signals that an answer changed. Non-blocking; redundant signals
// collapse into one pending flush.
func (a *Autosave) MarkDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// Stop halts the loop after a final flush of any pending changes. It blocks
// until the loop has fully drained; callers rely on that ordering to write
// the final submit snapshot without interference.
func (a *Autosave) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.started {
		<-a.done
	}
}

func (a *Autosave) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	pending := false
	var retryAt <-chan time.Time
	backoff := time.Second

	flush := func() {
		if err := a.save(ctx); err != nil {
			// Degrade, never block: keep the dirty flag and retry later.
			a.log.Warn().Err(err).Dur("retry_in", backoff).Msg("Autosave failed, will retry")
			pending = true
			retryAt = time.After(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			return
		}
		pending = false
		retryAt = nil
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-a.stop:
			// Drain: one last flush attempt for anything unsaved.
			select {
			case <-a.dirty:
				pending = true
			default:
			}
			if pending {
				if err := a.save(ctx); err != nil {
					a.log.Error().Err(err).Msg("Final autosave flush failed")
				}
			}
			return

		case <-a.dirty:
			// Let a typing burst settle so two triggers inside the window
			// produce exactly one write reflecting the latest answer.
			if a.debounce > 0 {
				settle := time.NewTimer(a.debounce)
			settling:
				for {
					select {
					case <-a.dirty:
						// absorbed into the same flush
					case <-settle.C:
						break settling
					case <-a.stop:
						settle.Stop()
						if err := a.save(ctx); err != nil {
							a.log.Error().Err(err).Msg("Final autosave flush failed")
						}
						return
					}
				}
			}
			flush()

		case <-ticker.C:
			if pending {
				flush()
			}

		case <-retryAt:
			flush()
		}
	}
}
