package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict classifies the outcome of one test case run.
type Verdict string

const (
	VerdictPassed            Verdict = "passed"
	VerdictWrongAnswer       Verdict = "wrong_answer"
	VerdictCompileError      Verdict = "compile_error"
	VerdictRuntimeError      Verdict = "runtime_error"
	VerdictTimeLimitExceeded Verdict = "time_limit_exceeded"
	VerdictResourceExceeded  Verdict = "resource_limit_exceeded"
	VerdictSandboxError      Verdict = "sandbox_error"
)

// CaseResult is one test case's outcome. For hidden cases only the verdict
// and timing survive; input, expected and actual output are redacted.
type CaseResult struct {
	Index           int     `json:"index"`
	Verdict         Verdict `json:"verdict"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	Hidden          bool    `json:"hidden"`
	Input           string  `json:"input,omitempty"`
	ExpectedOutput  string  `json:"expected_output,omitempty"`
	ActualOutput    string  `json:"actual_output,omitempty"`
	Stderr          string  `json:"stderr,omitempty"`
}

// QuestionResult is the graded outcome for a single question.
type QuestionResult struct {
	QuestionID      uuid.UUID    `json:"question_id"`
	Type            QuestionType `json:"type"`
	PassedTestCases int          `json:"passed_test_cases"`
	TotalTestCases  int          `json:"total_test_cases"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
	PointsAwarded   float64      `json:"points_awarded"`
	PointsPossible  float64      `json:"points_possible"`
	// Error holds a per-question grading failure (compile error text, sandbox
	// fault). Other questions in the same submission grade regardless.
	Error string `json:"error,omitempty"`
	// PendingReview marks answers that need a human (essays).
	PendingReview bool         `json:"pending_review,omitempty"`
	Cases         []CaseResult `json:"cases,omitempty"`
}

// GradingResult is produced exactly once per submitted session and never
// recomputed after the session closes.
type GradingResult struct {
	SessionID uuid.UUID        `json:"session_id"`
	Score     float64          `json:"score"`
	MaxScore  float64          `json:"max_score"`
	Questions []QuestionResult `json:"questions"`
	GradedAt  time.Time        `json:"graded_at"`
}

// Percent returns the score as 0-100, or 0 for an empty assignment.
func (r *GradingResult) Percent() float64 {
	if r.MaxScore <= 0 {
		return 0
	}
	return r.Score / r.MaxScore * 100
}
