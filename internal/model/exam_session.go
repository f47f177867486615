package model

import (
	"fmt"
	"strconv"
)

// SessionStatus enumerates attempt states. Completed is terminal.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

// AttemptKey identifies one attempt: one user taking one exam.
type AttemptKey struct {
	UserID int
	ExamID string
}

func (k AttemptKey) String() string {
	return strconv.Itoa(k.UserID) + ":" + k.ExamID
}

// AnswerRecord is the recorded answer for one question: the selected option text or free text.
type AnswerRecord struct {
	QuestionIndex int
	Value         string
}

// SessionState is the state of an in-progress attempt. Its stored JSON shape
// is owned by the session store.
type SessionState struct {
	ExamID               string
	CurrentQuestionIndex int
	Answers              map[int]AnswerRecord
	TimeRemainingSeconds int
	Status               SessionStatus
	// Version is the optimistic concurrency token compared on save. Zero means never saved.
	Version int64
}

// NewSessionState returns the default state for a first entry into an exam.
func NewSessionState(def *ExamDefinition) SessionState {
	return SessionState{
		ExamID:               def.ID,
		CurrentQuestionIndex: 0,
		Answers:              map[int]AnswerRecord{},
		TimeRemainingSeconds: def.TotalDurationSeconds,
		Status:               SessionStatusInProgress,
	}
}

// Clone returns a deep copy so mutations can be staged before a save.
func (s SessionState) Clone() SessionState {
	answers := make(map[int]AnswerRecord, len(s.Answers))
	for k, v := range s.Answers {
		answers[k] = v
	}
	s.Answers = answers
	return s
}

// Validate checks the state against the definition it belongs to.
func (s SessionState) Validate(def *ExamDefinition) error {
	if s.Status != SessionStatusInProgress && s.Status != SessionStatusCompleted {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if !def.ValidIndex(s.CurrentQuestionIndex) {
		return fmt.Errorf("question index %d out of range", s.CurrentQuestionIndex)
	}
	for idx, rec := range s.Answers {
		if !def.ValidIndex(idx) {
			return fmt.Errorf("answer for question %d out of range", idx)
		}
		if rec.QuestionIndex != idx {
			return fmt.Errorf("answer keyed %d records question %d", idx, rec.QuestionIndex)
		}
	}
	if s.TimeRemainingSeconds < 0 {
		return fmt.Errorf("negative remaining time %d", s.TimeRemainingSeconds)
	}
	return nil
}
