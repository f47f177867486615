package model

import (
	"errors"
	"fmt"
)

// QuestionKind enumerates the two question kinds. Only multiple choice is auto-scored.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	QuestionKindFreeText       QuestionKind = "free_text"
)

// Question represents a single exam question, answer key included.
type Question struct {
	Index         int          `json:"index"`
	Text          string       `json:"text"`
	Kind          QuestionKind `json:"kind"`
	Options       []string     `json:"options,omitempty"`
	CorrectOption string       `json:"correctOption,omitempty"`
}

// QuestionView is a question without its answer key, safe to send to candidates.
type QuestionView struct {
	Index   int          `json:"index"`
	Text    string       `json:"text"`
	Kind    QuestionKind `json:"kind"`
	Options []string     `json:"options,omitempty"`
}

// View strips the answer key.
func (q Question) View() QuestionView {
	return QuestionView{
		Index:   q.Index,
		Text:    q.Text,
		Kind:    q.Kind,
		Options: q.Options,
	}
}

// IsMultipleChoice reports whether the question is auto-scored.
func (q Question) IsMultipleChoice() bool {
	return q.Kind == QuestionKindMultipleChoice
}

// Validate checks that options and the correct option are present iff the question is multiple choice.
func (q Question) Validate() error {
	if q.Text == "" {
		return errors.New("question text is required")
	}
	switch q.Kind {
	case QuestionKindMultipleChoice:
		if len(q.Options) < 2 {
			return errors.New("multiple_choice needs at least two options")
		}
		if q.CorrectOption == "" {
			return errors.New("multiple_choice needs a correct option")
		}
		for _, opt := range q.Options {
			if opt == q.CorrectOption {
				return nil
			}
		}
		return fmt.Errorf("correct option %q is not one of the options", q.CorrectOption)
	case QuestionKindFreeText:
		if len(q.Options) > 0 || q.CorrectOption != "" {
			return errors.New("free_text must not carry options or a correct option")
		}
		return nil
	default:
		return fmt.Errorf("unknown question kind %q", q.Kind)
	}
}
