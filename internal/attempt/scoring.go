package attempt

import "github.com/stemsi/examhub/internal/model"

// Scorer maps recorded answers and the answer key to a result.
type Scorer interface {
	Score(def *model.ExamDefinition, answers map[int]model.AnswerRecord) model.ExamResult
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(def *model.ExamDefinition, answers map[int]model.AnswerRecord) model.ExamResult

func (f ScorerFunc) Score(def *model.ExamDefinition, answers map[int]model.AnswerRecord) model.ExamResult {
	return f(def, answers)
}

// DefaultScorer grades with Score.
var DefaultScorer Scorer = ScorerFunc(Score)

// Score grades multiple choice questions by exact, case-sensitive match against
// the correct option. Free text questions are left out of the denominator and
// listed for manual review. An exam without multiple choice questions scores 0.
// CompletedAt is left for the caller to stamp.
func Score(def *model.ExamDefinition, answers map[int]model.AnswerRecord) model.ExamResult {
	res := model.ExamResult{
		ExamID:                 def.ID,
		Title:                  def.Title,
		PerQuestionCorrectness: []bool{},
		PendingReview:          []int{},
		Feedback:               make([]model.QuestionFeedback, 0, len(def.Questions)),
	}

	for _, q := range def.Questions {
		rec, answered := answers[q.Index]
		fb := model.QuestionFeedback{
			QuestionIndex: q.Index,
			Text:          q.Text,
			Kind:          q.Kind,
			Selected:      rec.Value,
			Answered:      answered,
		}

		if q.IsMultipleChoice() {
			correct := answered && rec.Value == q.CorrectOption
			res.MultipleChoiceCount++
			if correct {
				res.CorrectCount++
			}
			res.PerQuestionCorrectness = append(res.PerQuestionCorrectness, correct)
			fb.CorrectOption = q.CorrectOption
			fb.Correct = &correct
		} else {
			res.PendingReview = append(res.PendingReview, q.Index)
			fb.NeedsReview = true
		}

		res.Feedback = append(res.Feedback, fb)
	}

	res.ScorePercent = roundPercent(res.CorrectCount, res.MultipleChoiceCount)
	return res
}

// roundPercent is round-half-up of 100*correct/total, in integers.
func roundPercent(correct, total int) int {
	if total == 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}
