package model

// DisplayState is the read-only view of an attempt rendered by the exam screen.
type DisplayState struct {
	ExamID         string        `json:"examId"`
	Title          string        `json:"title"`
	QuestionIndex  int           `json:"questionIndex"`
	QuestionCount  int           `json:"questionCount"`
	Question       QuestionView  `json:"question"`
	SelectedAnswer string        `json:"selectedAnswer"`
	HasAnswer      bool          `json:"hasAnswer"`
	AnsweredCount  int           `json:"answeredCount"`
	TimeRemaining  int           `json:"timeRemaining"`
	IsLastQuestion bool          `json:"isLastQuestion"`
	Status         SessionStatus `json:"status"`
}
