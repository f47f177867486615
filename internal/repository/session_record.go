package repository

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stemsi/examhub/internal/model"
)

// sessionRecord is the stored JSON shape of a session: answers map the
// question index to the raw answer value.
type sessionRecord struct {
	ExamID               string              `json:"examId,omitempty"`
	CurrentQuestionIndex int                 `json:"currentQuestionIndex"`
	Answers              map[string]string   `json:"answers"`
	TimeRemainingSeconds int                 `json:"timeRemainingSeconds"`
	Status               model.SessionStatus `json:"status"`
	Version              int64               `json:"version"`
}

func encodeSession(st model.SessionState) ([]byte, error) {
	rec := sessionRecord{
		ExamID:               st.ExamID,
		CurrentQuestionIndex: st.CurrentQuestionIndex,
		Answers:              make(map[string]string, len(st.Answers)),
		TimeRemainingSeconds: st.TimeRemainingSeconds,
		Status:               st.Status,
		Version:              st.Version,
	}
	for idx, a := range st.Answers {
		rec.Answers[strconv.Itoa(idx)] = a.Value
	}
	return json.Marshal(rec)
}

// decodeSession parses a stored session. Any record that does not decode in
// full, including its answer keys, is an error; callers treat it as absent
// with version 0.
func decodeSession(data []byte) (model.SessionState, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.SessionState{}, err
	}

	st := model.SessionState{
		ExamID:               rec.ExamID,
		CurrentQuestionIndex: rec.CurrentQuestionIndex,
		Answers:              make(map[int]model.AnswerRecord, len(rec.Answers)),
		TimeRemainingSeconds: rec.TimeRemainingSeconds,
		Status:               rec.Status,
		Version:              rec.Version,
	}
	for k, v := range rec.Answers {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return model.SessionState{}, fmt.Errorf("answer key %q: %w", k, err)
		}
		st.Answers[idx] = model.AnswerRecord{QuestionIndex: idx, Value: v}
	}
	return st, nil
}
