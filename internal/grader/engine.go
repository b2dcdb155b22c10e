package grader

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// Engine grades one question at a time under a bounded worker pool: at most
// Workers coding submissions execute concurrently, the rest wait their turn
// instead of spawning unbounded sandboxes. Objective and essay answers skip
// the pool entirely, they cost nothing to score.
type Engine struct {
	exec Executor
	pool chan struct{}
	log  zerolog.Logger
}

// NewEngine wraps an executor with a pool of the given size.
func NewEngine(exec Executor, workers int, log zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		exec: exec,
		pool: make(chan struct{}, workers),
		log:  log,
	}
}

// GradeQuestion produces one question's result. Failures are contained to
// the returned result; the caller keeps grading the rest of the submission.
func (e *Engine) GradeQuestion(ctx context.Context, q model.Question, ans *model.Answer) model.QuestionResult {
	switch q.Type {
	case model.QuestionTypeObjective:
		return scoreObjective(q, ans)
	case model.QuestionTypeEssay:
		return scoreEssay(q, ans)
	case model.QuestionTypeCoding:
		return e.gradeCoding(ctx, q, ans)
	default:
		return model.QuestionResult{
			QuestionID:     q.ID,
			Type:           q.Type,
			PointsPossible: q.Points,
			Error:          "unknown question type",
		}
	}
}

// scoreEssay never scores automatically; it flags the answer for a human.
func scoreEssay(q model.Question, ans *model.Answer) model.QuestionResult {
	res := model.QuestionResult{
		QuestionID:     q.ID,
		Type:           q.Type,
		PointsPossible: q.Points,
	}
	if ans != nil && ans.Text != "" {
		res.PendingReview = true
	}
	return res
}

func (e *Engine) gradeCoding(ctx context.Context, q model.Question, ans *model.Answer) model.QuestionResult {
	res := model.QuestionResult{
		QuestionID:     q.ID,
		Type:           q.Type,
		PointsPossible: q.Points,
		TotalTestCases: len(q.TestCases),
	}

	if ans == nil || ans.Code == "" {
		return res
	}

	lang, ok := LookupLanguage(ans.Language)
	if !ok {
		res.Error = ErrUnsupportedLanguage.Error()
		return res
	}

	// Pool admission; a queued submission waits rather than running unbounded.
	select {
	case e.pool <- struct{}{}:
		defer func() { <-e.pool }()
	case <-ctx.Done():
		res.Error = "grading cancelled"
		return res
	}

	cases, err := e.exec.Execute(ctx, lang, ans.Code, q.TestCases)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			res.Error = ce.Output
			res.Cases = compileFailureCases(q.TestCases)
			return res
		}
		e.log.Error().Err(err).Str("question_id", q.ID.String()).Msg("Sandbox execution failed")
		res.Error = "sandbox error"
		return res
	}

	for _, cr := range cases {
		if cr.Verdict == model.VerdictPassed {
			res.PassedTestCases++
		}
		res.ExecutionTimeMs += cr.ExecutionTimeMs
		res.Cases = append(res.Cases, redact(cr))
	}
	if res.TotalTestCases > 0 {
		res.PointsAwarded = q.Points * float64(res.PassedTestCases) / float64(res.TotalTestCases)
	}
	return res
}

// compileFailureCases marks every case compile_error so clients can render a
// uniform per-case view.
func compileFailureCases(cases []model.TestCase) []model.CaseResult {
	out := make([]model.CaseResult, len(cases))
	for i, tc := range cases {
		out[i] = model.CaseResult{Index: i, Verdict: model.VerdictCompileError, Hidden: tc.Hidden}
		if !tc.Hidden {
			out[i].Input = tc.Input
			out[i].ExpectedOutput = tc.ExpectedOutput
		}
	}
	return out
}

// redact strips a hidden case down to verdict and timing. Input, expected
// and actual output never leave the server for hidden cases.
func redact(cr model.CaseResult) model.CaseResult {
	if !cr.Hidden {
		return cr
	}
	cr.Input = ""
	cr.ExpectedOutput = ""
	cr.ActualOutput = ""
	cr.Stderr = ""
	return cr
}
