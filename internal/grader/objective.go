package grader

import (
	"github.com/invigilo/invigilo-backend/internal/model"
)

// scoreObjective grades a multiple-choice answer deterministically: full
// points when the selected set equals the correct set exactly, zero
// otherwise. No partial credit for supersets or subsets.
func scoreObjective(q model.Question, ans *model.Answer) model.QuestionResult {
	res := model.QuestionResult{
		QuestionID:     q.ID,
		Type:           q.Type,
		PointsPossible: q.Points,
		TotalTestCases: 1,
	}
	if ans == nil {
		return res
	}
	if sameOptionSet(q.CorrectOptionIDs, ans.SelectedOptionIDs) {
		res.PointsAwarded = q.Points
		res.PassedTestCases = 1
	}
	return res
}

// sameOptionSet compares as sets, so duplicates and ordering in either list
// never matter.
func sameOptionSet(correct, selected []string) bool {
	if len(correct) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	got := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		got[id] = struct{}{}
	}
	if len(want) != len(got) {
		return false
	}
	for id := range want {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	return true
}
