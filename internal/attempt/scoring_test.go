package attempt

import (
	"testing"

	"github.com/stemsi/examhub/internal/model"
)

func answers(values ...string) map[int]model.AnswerRecord {
	out := make(map[int]model.AnswerRecord)
	for i, v := range values {
		if v == "" {
			continue
		}
		out[i] = model.AnswerRecord{QuestionIndex: i, Value: v}
	}
	return out
}

func TestScoreTwoOfThree(t *testing.T) {
	res := Score(osExam(), answers("A", "X", "C"))

	if res.ScorePercent != 67 {
		t.Errorf("ScorePercent = %d, want 67", res.ScorePercent)
	}
	want := []bool{true, false, true}
	for i := range want {
		if res.PerQuestionCorrectness[i] != want[i] {
			t.Fatalf("PerQuestionCorrectness = %v, want %v", res.PerQuestionCorrectness, want)
		}
	}
	if res.CorrectCount != 2 || res.MultipleChoiceCount != 3 {
		t.Errorf("counts = %d/%d, want 2/3", res.CorrectCount, res.MultipleChoiceCount)
	}
}

func TestScoreExcludesFreeText(t *testing.T) {
	def := testExam("mixed", 600, mcQuestion(0, "A"), mcQuestion(1, "B"), freeQuestion(2))
	res := Score(def, answers("A", "B", "anything at all"))

	if res.ScorePercent != 100 {
		t.Errorf("ScorePercent = %d, want 100", res.ScorePercent)
	}
	if len(res.PerQuestionCorrectness) != 2 {
		t.Errorf("PerQuestionCorrectness has %d entries, want 2", len(res.PerQuestionCorrectness))
	}
	if len(res.PendingReview) != 1 || res.PendingReview[0] != 2 {
		t.Errorf("PendingReview = %v, want [2]", res.PendingReview)
	}
	if fb := res.Feedback[2]; !fb.NeedsReview || fb.Correct != nil {
		t.Errorf("free text feedback = %+v", fb)
	}
}

func TestScoreEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		def     *model.ExamDefinition
		answers map[int]model.AnswerRecord
		want    int
	}{
		{
			name:    "no answers",
			def:     osExam(),
			answers: nil,
			want:    0,
		},
		{
			name:    "only free text",
			def:     testExam("essay", 60, freeQuestion(0)),
			answers: answers("text"),
			want:    0,
		},
		{
			name:    "case sensitive",
			def:     testExam("one", 60, mcQuestion(0, "A")),
			answers: answers("a"),
			want:    0,
		},
		{
			name:    "half rounds up",
			def:     testExam("two", 60, mcQuestion(0, "A"), mcQuestion(1, "B")),
			answers: answers("A", "C"),
			want:    50,
		},
		{
			name:    "one of three",
			def:     osExam(),
			answers: answers("A"),
			want:    33,
		},
		{
			name: "seven of eight",
			def: testExam("eight", 60,
				mcQuestion(0, "A"), mcQuestion(1, "A"), mcQuestion(2, "A"), mcQuestion(3, "A"),
				mcQuestion(4, "A"), mcQuestion(5, "A"), mcQuestion(6, "A"), mcQuestion(7, "A")),
			answers: answers("A", "A", "A", "A", "A", "A", "A", "B"),
			want:    88,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.def, tt.answers).ScorePercent; got != tt.want {
				t.Errorf("ScorePercent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreUnansweredIsIncorrect(t *testing.T) {
	res := Score(osExam(), answers("A", "", "C"))
	if res.PerQuestionCorrectness[1] {
		t.Error("unanswered question scored correct")
	}
	if res.Feedback[1].Answered {
		t.Error("unanswered question reported answered")
	}
}
