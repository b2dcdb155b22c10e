package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViolationJobKeepsSubSecondPrecision(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	job := ViolationJob{OccurredAt: at.UnixMilli()}
	assert.True(t, job.OccurredAtTime().Equal(at))
}

func TestViolationJobPreservesDebounceGaps(t *testing.T) {
	// Two events 1.9s apart must still read as inside a 2s debounce window
	// after a queue round trip, or recovery re-counts a debounced pair.
	first := time.Now()
	second := first.Add(1900 * time.Millisecond)

	fj := ViolationJob{OccurredAt: first.UnixMilli()}
	sj := ViolationJob{OccurredAt: second.UnixMilli()}

	gap := sj.OccurredAtTime().Sub(fj.OccurredAtTime())
	assert.Equal(t, 1900*time.Millisecond, gap)
	assert.Less(t, gap, 2*time.Second)
}
