package model

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Model-level structural errors.
var (
	ErrNoQuestions     = errors.New("assignment has no questions")
	ErrQuestionNoID    = errors.New("question is missing an id")
	ErrQuestionNoType  = errors.New("question is missing a type")
	ErrUnknownLanguage = errors.New("language not allowed for this question")
)

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeObjective QuestionType = "OBJECTIVE"
	QuestionTypeCoding    QuestionType = "CODING"
	QuestionTypeEssay     QuestionType = "ESSAY"
)

// TestCase is one input/expected-output pair for a coding question.
// Hidden cases are graded identically but never echoed back to the student.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

// Question is a single assignment question with a type-specific payload.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	AssignmentID uuid.UUID       `json:"assignment_id"`
	Type         QuestionType    `json:"type"`
	Text         string          `json:"text"`
	Points       float64         `json:"points"`
	OrderNum     int             `json:"order_num"`

	// Objective payload.
	Options          json.RawMessage `json:"options,omitempty"`
	CorrectOptionIDs []string        `json:"correct_option_ids,omitempty"`

	// Coding payload.
	StarterCode      string     `json:"starter_code,omitempty"`
	AllowedLanguages []string   `json:"allowed_languages,omitempty"`
	TestCases        []TestCase `json:"test_cases,omitempty"`
}

// ValidateStructure checks the minimum the session engine requires of a
// question: an id and a known type.
func (q *Question) ValidateStructure() error {
	if q.ID == uuid.Nil {
		return ErrQuestionNoID
	}
	switch q.Type {
	case QuestionTypeObjective, QuestionTypeCoding, QuestionTypeEssay:
		return nil
	default:
		return ErrQuestionNoType
	}
}

// AllowsLanguage reports whether a coding answer may use the given language.
// An empty allow-list permits any language the grader supports.
func (q *Question) AllowsLanguage(lang string) bool {
	if len(q.AllowedLanguages) == 0 {
		return true
	}
	for _, l := range q.AllowedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// QuestionForStudent is a question with grading material stripped: no correct
// options, no hidden test cases, no expected outputs.
type QuestionForStudent struct {
	ID               uuid.UUID       `json:"id"`
	Type             QuestionType    `json:"type"`
	Text             string          `json:"text"`
	Points           float64         `json:"points"`
	OrderNum         int             `json:"order_num"`
	Options          json.RawMessage `json:"options,omitempty"`
	StarterCode      string          `json:"starter_code,omitempty"`
	AllowedLanguages []string        `json:"allowed_languages,omitempty"`
	SampleInputs     []string        `json:"sample_inputs,omitempty"`
}

// ForStudent strips grading material from a question.
func (q *Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		ID:               q.ID,
		Type:             q.Type,
		Text:             q.Text,
		Points:           q.Points,
		OrderNum:         q.OrderNum,
		Options:          q.Options,
		StarterCode:      q.StarterCode,
		AllowedLanguages: q.AllowedLanguages,
	}
	for _, tc := range q.TestCases {
		if !tc.Hidden {
			out.SampleInputs = append(out.SampleInputs, tc.Input)
		}
	}
	return out
}

// AddQuestionRequest is the payload for adding a question to a draft assignment.
type AddQuestionRequest struct {
	Type             string          `json:"type" binding:"required,oneof=OBJECTIVE CODING ESSAY"`
	Text             string          `json:"text" binding:"required,min=1,max=10000"`
	Points           float64         `json:"points" binding:"required,gt=0"`
	OrderNum         int             `json:"order_num" binding:"min=0"`
	Options          json.RawMessage `json:"options" binding:"omitempty"`
	CorrectOptionIDs []string        `json:"correct_option_ids" binding:"omitempty"`
	StarterCode      string          `json:"starter_code" binding:"omitempty,max=65536"`
	AllowedLanguages []string        `json:"allowed_languages" binding:"omitempty"`
	TestCases        []TestCase      `json:"test_cases" binding:"omitempty,dive"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"dive"`
}
