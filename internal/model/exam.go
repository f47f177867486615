package model

import (
	"errors"
	"fmt"
	"regexp"
)

var examIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidExamID reports whether id is a well-formed exam slug, e.g. "os-101".
// Exam ids end up in Redis keys, so nothing else is accepted.
func ValidExamID(id string) bool {
	return examIDPattern.MatchString(id)
}

// ExamDefinition is the immutable description of an exam, supplied externally.
type ExamDefinition struct {
	ID                   string     `json:"examId"`
	Title                string     `json:"title"`
	Questions            []Question `json:"questions"`
	TotalDurationSeconds int        `json:"totalDurationSeconds"`
}

// ExamPayload is the Redis-cached definition sent to candidates (no correct answers).
type ExamPayload struct {
	ID                   string         `json:"examId"`
	Title                string         `json:"title"`
	TotalDurationSeconds int            `json:"totalDurationSeconds"`
	Questions            []QuestionView `json:"questions"`
}

// QuestionCount returns N, the number of questions.
func (d *ExamDefinition) QuestionCount() int {
	return len(d.Questions)
}

// ValidIndex reports whether i addresses a question.
func (d *ExamDefinition) ValidIndex(i int) bool {
	return i >= 0 && i < len(d.Questions)
}

// Payload returns the candidate-facing projection of the definition.
func (d *ExamDefinition) Payload() ExamPayload {
	views := make([]QuestionView, len(d.Questions))
	for i, q := range d.Questions {
		views[i] = q.View()
	}
	return ExamPayload{
		ID:                   d.ID,
		Title:                d.Title,
		TotalDurationSeconds: d.TotalDurationSeconds,
		Questions:            views,
	}
}

// AnswerKey maps question index to correct option for multiple choice questions.
func (d *ExamDefinition) AnswerKey() map[int]string {
	key := make(map[int]string)
	for _, q := range d.Questions {
		if q.IsMultipleChoice() {
			key[q.Index] = q.CorrectOption
		}
	}
	return key
}

// DefinitionFromPayload rebuilds a definition from its cached payload and answer key.
func DefinitionFromPayload(p ExamPayload, key map[int]string) *ExamDefinition {
	questions := make([]Question, len(p.Questions))
	for i, v := range p.Questions {
		questions[i] = Question{
			Index:         v.Index,
			Text:          v.Text,
			Kind:          v.Kind,
			Options:       v.Options,
			CorrectOption: key[v.Index],
		}
	}
	return &ExamDefinition{
		ID:                   p.ID,
		Title:                p.Title,
		Questions:            questions,
		TotalDurationSeconds: p.TotalDurationSeconds,
	}
}

// Validate checks the definition before it is stored or used.
func (d *ExamDefinition) Validate() error {
	if !ValidExamID(d.ID) {
		return fmt.Errorf("invalid exam id %q", d.ID)
	}
	if d.Title == "" {
		return errors.New("exam title is required")
	}
	if d.TotalDurationSeconds <= 0 {
		return errors.New("total duration must be positive")
	}
	if len(d.Questions) == 0 {
		return errors.New("exam has no questions")
	}
	for i, q := range d.Questions {
		if q.Index != i {
			return fmt.Errorf("question %d has index %d, want %d", i, q.Index, i)
		}
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}
