package grader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

// fakeExecutor returns canned case results and tracks concurrency.
type fakeExecutor struct {
	mu        sync.Mutex
	results   []model.CaseResult
	err       error
	delay     time.Duration
	inFlight  atomic.Int64
	peak      atomic.Int64
	execCount atomic.Int64
}

func (f *fakeExecutor) Execute(ctx context.Context, _ Language, _ string, _ []model.TestCase) ([]model.CaseResult, error) {
	f.execCount.Add(1)
	cur := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results, f.err
}

func codingQuestion(points float64, cases ...model.TestCase) model.Question {
	return model.Question{
		ID:        uuid.New(),
		Type:      model.QuestionTypeCoding,
		Points:    points,
		TestCases: cases,
	}
}

func pythonAnswer() *model.Answer {
	return &model.Answer{Code: "print(1+1)", Language: "python3"}
}

func TestGradeCodingProportionalPoints(t *testing.T) {
	exec := &fakeExecutor{results: []model.CaseResult{
		{Index: 0, Verdict: model.VerdictPassed},
		{Index: 1, Verdict: model.VerdictWrongAnswer},
		{Index: 2, Verdict: model.VerdictPassed},
		{Index: 3, Verdict: model.VerdictRuntimeError},
	}}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(10,
		model.TestCase{}, model.TestCase{}, model.TestCase{}, model.TestCase{})
	res := e.GradeQuestion(context.Background(), q, pythonAnswer())

	assert.Equal(t, 2, res.PassedTestCases)
	assert.Equal(t, 4, res.TotalTestCases)
	assert.Equal(t, 5.0, res.PointsAwarded)
	assert.Empty(t, res.Error)
}

func TestGradeCodingHiddenCasesRedacted(t *testing.T) {
	exec := &fakeExecutor{results: []model.CaseResult{
		{Index: 0, Verdict: model.VerdictPassed, Hidden: false, Input: "1", ExpectedOutput: "2", ActualOutput: "2"},
		{Index: 1, Verdict: model.VerdictWrongAnswer, Hidden: true, Input: "9", ExpectedOutput: "18", ActualOutput: "17", Stderr: "trace"},
	}}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(10, model.TestCase{Input: "1"}, model.TestCase{Input: "9", Hidden: true})
	res := e.GradeQuestion(context.Background(), q, pythonAnswer())

	visible, hidden := res.Cases[0], res.Cases[1]
	assert.Equal(t, "1", visible.Input)
	assert.Equal(t, "2", visible.ActualOutput)

	// Hidden cases keep only verdict and timing.
	assert.Equal(t, model.VerdictWrongAnswer, hidden.Verdict)
	assert.True(t, hidden.Hidden)
	assert.Empty(t, hidden.Input)
	assert.Empty(t, hidden.ExpectedOutput)
	assert.Empty(t, hidden.ActualOutput)
	assert.Empty(t, hidden.Stderr)
}

func TestGradeCodingCompileError(t *testing.T) {
	exec := &fakeExecutor{err: &CompileError{Output: "SyntaxError: invalid syntax"}}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(10, model.TestCase{}, model.TestCase{Hidden: true})
	res := e.GradeQuestion(context.Background(), q, pythonAnswer())

	assert.Zero(t, res.PointsAwarded)
	assert.Contains(t, res.Error, "SyntaxError")
	assert.Len(t, res.Cases, 2)
	for _, cr := range res.Cases {
		assert.Equal(t, model.VerdictCompileError, cr.Verdict)
	}
}

func TestGradeCodingUnsupportedLanguage(t *testing.T) {
	exec := &fakeExecutor{}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(10, model.TestCase{})
	res := e.GradeQuestion(context.Background(), q, &model.Answer{Code: "x", Language: "cobol"})

	assert.Equal(t, ErrUnsupportedLanguage.Error(), res.Error)
	assert.Zero(t, exec.execCount.Load())
}

func TestGradeCodingUnanswered(t *testing.T) {
	exec := &fakeExecutor{}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(10, model.TestCase{}, model.TestCase{})
	res := e.GradeQuestion(context.Background(), q, nil)

	assert.Zero(t, res.PointsAwarded)
	assert.Equal(t, 2, res.TotalTestCases)
	assert.Zero(t, exec.execCount.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	exec := &fakeExecutor{
		results: []model.CaseResult{{Verdict: model.VerdictPassed}},
		delay:   20 * time.Millisecond,
	}
	e := NewEngine(exec, 2, testLogger())

	q := codingQuestion(1, model.TestCase{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.GradeQuestion(context.Background(), q, pythonAnswer())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), exec.execCount.Load())
	assert.LessOrEqual(t, exec.peak.Load(), int64(2))
}

func TestGradeEssayPendingReview(t *testing.T) {
	e := NewEngine(&fakeExecutor{}, 2, testLogger())
	q := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, Points: 15}

	res := e.GradeQuestion(context.Background(), q, &model.Answer{Text: "An essay."})
	assert.True(t, res.PendingReview)
	assert.Zero(t, res.PointsAwarded)
	assert.Equal(t, 15.0, res.PointsPossible)

	res = e.GradeQuestion(context.Background(), q, nil)
	assert.False(t, res.PendingReview)
}
