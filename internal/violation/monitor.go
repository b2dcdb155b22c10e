// Package violation classifies and counts integrity events for an attempt.
// The monitor is a pure function of the accumulated event list plus policy so
// it can be evaluated anywhere (state machine, recovery, reporting) and always
// agrees with itself.
package violation

import (
	"sort"
	"time"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// DefaultDebounce absorbs bursty browser events: a fullscreen exit typically
// fires a blur and a visibilitychange within the same second.
const DefaultDebounce = 2 * time.Second

// Evaluation is the monitor's verdict over an event list.
type Evaluation struct {
	Count    int
	Exceeded bool
}

// Debounce returns the policy's dedup window, falling back to the default.
func Debounce(p model.ViolationPolicy) time.Duration {
	if p.DebounceSeconds > 0 {
		return time.Duration(p.DebounceSeconds) * time.Second
	}
	return DefaultDebounce
}

// Evaluate counts the events that survive de-duplication and reports whether
// the policy threshold is crossed. Exceeded is true only when the policy both
// sets a threshold and asks for auto-submission; otherwise violations are
// recorded for later review and never force a transition.
//
// De-duplication: events of the same type within the debounce window of the
// previously counted event of that type are treated as one physical event.
// Distinct types never debounce each other.
func Evaluate(events []model.ViolationEvent, p model.ViolationPolicy) Evaluation {
	count := Count(events, Debounce(p))
	return Evaluation{
		Count:    count,
		Exceeded: p.AutoSubmitOnViolation && p.MaxViolations > 0 && count >= p.MaxViolations,
	}
}

// Count returns the debounced event count. The result is monotonically
// non-decreasing as events are appended, provided the window stays fixed.
func Count(events []model.ViolationEvent, window time.Duration) int {
	if len(events) == 0 {
		return 0
	}

	sorted := append([]model.ViolationEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	lastCounted := make(map[model.ViolationType]time.Time, 4)
	count := 0
	for _, ev := range sorted {
		if prev, ok := lastCounted[ev.Type]; ok && ev.OccurredAt.Sub(prev) < window {
			continue
		}
		lastCounted[ev.Type] = ev.OccurredAt
		count++
	}
	return count
}
