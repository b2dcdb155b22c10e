package violation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func ev(t model.ViolationType, at time.Time) model.ViolationEvent {
	return model.ViolationEvent{Type: t, OccurredAt: at}
}

func TestEvaluateThreshold(t *testing.T) {
	base := time.Now()
	policy := model.ViolationPolicy{MaxViolations: 3, AutoSubmitOnViolation: true}

	events := []model.ViolationEvent{
		ev(model.ViolationTabSwitch, base),
		ev(model.ViolationFocusLost, base.Add(5*time.Second)),
	}
	res := Evaluate(events, policy)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Exceeded, "2nd violation alone must not exceed")

	events = append(events, ev(model.ViolationFullscreenExit, base.Add(10*time.Second)))
	res = Evaluate(events, policy)
	assert.Equal(t, 3, res.Count)
	assert.True(t, res.Exceeded)
}

func TestEvaluateAutoSubmitDisabled(t *testing.T) {
	base := time.Now()
	policy := model.ViolationPolicy{MaxViolations: 1, AutoSubmitOnViolation: false}

	events := []model.ViolationEvent{
		ev(model.ViolationTabSwitch, base),
		ev(model.ViolationTabSwitch, base.Add(10*time.Second)),
		ev(model.ViolationFocusLost, base.Add(20*time.Second)),
	}
	res := Evaluate(events, policy)
	assert.Equal(t, 3, res.Count, "violations are still recorded")
	assert.False(t, res.Exceeded, "recording-only policy never forces a transition")
}

func TestDebounceSameType(t *testing.T) {
	base := time.Now()

	// Browser burst: blur + visibilitychange report the same physical event twice.
	events := []model.ViolationEvent{
		ev(model.ViolationFocusLost, base),
		ev(model.ViolationFocusLost, base.Add(300*time.Millisecond)),
	}
	assert.Equal(t, 1, Count(events, DefaultDebounce))

	// More than the window apart counts separately.
	events = append(events, ev(model.ViolationFocusLost, base.Add(3*time.Second)))
	assert.Equal(t, 2, Count(events, DefaultDebounce))
}

func TestDebounceDistinctTypesNeverMerge(t *testing.T) {
	base := time.Now()
	events := []model.ViolationEvent{
		ev(model.ViolationFocusLost, base),
		ev(model.ViolationTabSwitch, base.Add(100*time.Millisecond)),
	}
	assert.Equal(t, 2, Count(events, DefaultDebounce))
}

func TestCountMonotonicUnderAppend(t *testing.T) {
	base := time.Now()
	var events []model.ViolationEvent
	prev := 0
	for i := 0; i < 20; i++ {
		events = append(events, ev(model.ViolationTabSwitch, base.Add(time.Duration(i)*700*time.Millisecond)))
		n := Count(events, DefaultDebounce)
		assert.GreaterOrEqual(t, n, prev, "count must never decrease as events accumulate")
		prev = n
	}
}

func TestDebouncePolicyOverride(t *testing.T) {
	p := model.ViolationPolicy{DebounceSeconds: 5}
	assert.Equal(t, 5*time.Second, Debounce(p))
	assert.Equal(t, DefaultDebounce, Debounce(model.ViolationPolicy{}))
}

func TestEvaluateOutOfOrderDelivery(t *testing.T) {
	base := time.Now()
	// Reports can arrive out of order over the wire; counting is by event time.
	events := []model.ViolationEvent{
		ev(model.ViolationFocusLost, base.Add(400*time.Millisecond)),
		ev(model.ViolationFocusLost, base),
	}
	assert.Equal(t, 1, Count(events, DefaultDebounce))
}
