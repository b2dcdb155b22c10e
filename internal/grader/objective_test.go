package grader

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func objectiveQuestion(correct ...string) model.Question {
	return model.Question{
		ID:               uuid.New(),
		Type:             model.QuestionTypeObjective,
		Points:           5,
		CorrectOptionIDs: correct,
	}
}

func TestScoreObjective(t *testing.T) {
	q := objectiveQuestion("a", "c")

	t.Run("exact set scores full points", func(t *testing.T) {
		res := scoreObjective(q, &model.Answer{SelectedOptionIDs: []string{"c", "a"}})
		assert.Equal(t, 5.0, res.PointsAwarded)
		assert.Equal(t, 1, res.PassedTestCases)
	})

	t.Run("subset scores nothing", func(t *testing.T) {
		res := scoreObjective(q, &model.Answer{SelectedOptionIDs: []string{"a"}})
		assert.Zero(t, res.PointsAwarded)
	})

	t.Run("superset scores nothing", func(t *testing.T) {
		res := scoreObjective(q, &model.Answer{SelectedOptionIDs: []string{"a", "b", "c"}})
		assert.Zero(t, res.PointsAwarded)
	})

	t.Run("duplicate selections count once", func(t *testing.T) {
		res := scoreObjective(q, &model.Answer{SelectedOptionIDs: []string{"a", "a"}})
		assert.Zero(t, res.PointsAwarded)
	})

	t.Run("unanswered scores nothing", func(t *testing.T) {
		res := scoreObjective(q, nil)
		assert.Zero(t, res.PointsAwarded)
		assert.Equal(t, 5.0, res.PointsPossible)
	})

	t.Run("question without key never scores", func(t *testing.T) {
		res := scoreObjective(objectiveQuestion(), &model.Answer{SelectedOptionIDs: nil})
		assert.Zero(t, res.PointsAwarded)
	})
}
