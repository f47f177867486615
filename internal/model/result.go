package model

import "time"

// QuestionFeedback is the per-question review line shown after submission.
type QuestionFeedback struct {
	QuestionIndex int          `json:"questionIndex"`
	Text          string       `json:"text"`
	Kind          QuestionKind `json:"kind"`
	Selected      string       `json:"selected"`
	Answered      bool         `json:"answered"`
	// Correct and CorrectOption are only set for multiple choice questions.
	CorrectOption string `json:"correctOption,omitempty"`
	Correct       *bool  `json:"correct,omitempty"`
	NeedsReview   bool   `json:"needsReview"`
}

// ExamResult is written once per attempt at finalization.
type ExamResult struct {
	ExamID                 string    `json:"examId"`
	Title                  string    `json:"title"`
	ScorePercent           int       `json:"scorePercent"`
	PerQuestionCorrectness []bool    `json:"perQuestionCorrectness"`
	CompletedAt            time.Time `json:"completedAt"`

	CorrectCount        int                `json:"correctCount"`
	MultipleChoiceCount int                `json:"multipleChoiceCount"`
	PendingReview       []int              `json:"pendingReview"`
	Feedback            []QuestionFeedback `json:"feedback,omitempty"`
}

// Destination is a logical navigation target handed back to the UI layer.
type Destination string

const (
	DestinationFeedback  Destination = "feedback"
	DestinationDashboard Destination = "dashboard"
)

// ArchivedResult is a result queued for, or read back from, the Postgres archive.
type ArchivedResult struct {
	UserID int        `json:"userId"`
	Result ExamResult `json:"result"`
}
