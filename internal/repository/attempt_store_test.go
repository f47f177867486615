package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/attempt"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func osDefinition() *model.ExamDefinition {
	q := func(i int, correct string) model.Question {
		return model.Question{
			Index: i, Text: "q", Kind: model.QuestionKindMultipleChoice,
			Options: []string{"A", "B", "C"}, CorrectOption: correct,
		}
	}
	return &model.ExamDefinition{
		ID:                   "os-101",
		Title:                "Operating Systems",
		Questions:            []model.Question{q(0, "A"), q(1, "B"), q(2, "C")},
		TotalDurationSeconds: 1800,
	}
}

var storeKey = model.AttemptKey{UserID: 9, ExamID: "os-101"}

func TestAttemptStoreLoadAbsentReturnsDefault(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())

	st, resumed, err := s.Load(context.Background(), storeKey, osDefinition())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resumed {
		t.Error("absent record reported resumed")
	}
	if st.CurrentQuestionIndex != 0 || len(st.Answers) != 0 || st.TimeRemainingSeconds != 1800 || st.Version != 0 {
		t.Errorf("state = %+v, want default", st)
	}
}

func TestAttemptStoreSaveAndResume(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	ctx := context.Background()
	def := osDefinition()

	st, _, _ := s.Load(ctx, storeKey, def)
	st.CurrentQuestionIndex = 2
	st.Answers[0] = model.AnswerRecord{QuestionIndex: 0, Value: "A"}
	st.TimeRemainingSeconds = 1200
	if err := s.Save(ctx, storeKey, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st.Version != 1 {
		t.Errorf("Version = %d after save, want 1", st.Version)
	}

	got, resumed, err := s.Load(ctx, storeKey, def)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !resumed {
		t.Fatal("saved record not resumed")
	}
	if got.CurrentQuestionIndex != 2 || got.Answers[0].Value != "A" || got.TimeRemainingSeconds != 1200 || got.Version != 1 {
		t.Errorf("resumed = %+v", got)
	}
}

func TestAttemptStoreSaveDetectsStaleVersion(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	ctx := context.Background()
	def := osDefinition()

	tabA, _, _ := s.Load(ctx, storeKey, def)
	tabB, _, _ := s.Load(ctx, storeKey, def)

	if err := s.Save(ctx, storeKey, &tabA); err != nil {
		t.Fatalf("Save tab A: %v", err)
	}
	if err := s.Save(ctx, storeKey, &tabB); !errors.Is(err, attempt.ErrStaleSession) {
		t.Fatalf("Save tab B err = %v, want ErrStaleSession", err)
	}
	if tabB.Version != 0 {
		t.Errorf("stale save changed version to %d", tabB.Version)
	}
}

func TestAttemptStoreLoadRejectsBadRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "corrupt", raw: "{not json"},
		{name: "answer of wrong type", raw: `{"examId":"os-101","currentQuestionIndex":1,"answers":{"0":{"questionIndex":0,"value":"A"}},"timeRemainingSeconds":10,"status":"in_progress","version":3}`},
		{name: "remaining of wrong type", raw: `{"examId":"os-101","currentQuestionIndex":1,"answers":{"0":"A"},"timeRemainingSeconds":"x","status":"in_progress","version":3}`},
		{name: "non numeric answer key", raw: `{"examId":"os-101","currentQuestionIndex":1,"answers":{"first":"A"},"timeRemainingSeconds":10,"status":"in_progress","version":3}`},
		{name: "answer out of range", raw: `{"examId":"os-101","currentQuestionIndex":1,"answers":{"9":"A"},"timeRemainingSeconds":10,"status":"in_progress","version":3}`},
		{name: "completed", raw: `{"examId":"os-101","currentQuestionIndex":1,"answers":{},"timeRemainingSeconds":10,"status":"completed","version":4}`},
		{name: "index out of range", raw: `{"examId":"os-101","currentQuestionIndex":7,"answers":{},"timeRemainingSeconds":10,"status":"in_progress","version":2}`},
		{name: "other exam", raw: `{"examId":"ds-201","currentQuestionIndex":0,"answers":{},"timeRemainingSeconds":10,"status":"in_progress","version":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, rdb := newTestRedis(t)
			s := NewAttemptStore(rdb, zerolog.Nop())
			ctx := context.Background()
			mr.Set(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID), tt.raw)

			st, resumed, err := s.Load(ctx, storeKey, osDefinition())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if resumed || st.CurrentQuestionIndex != 0 || st.TimeRemainingSeconds != 1800 {
				t.Fatalf("got resumed=%v state=%+v, want default", resumed, st)
			}
			if err := s.Save(ctx, storeKey, &st); err != nil {
				t.Errorf("default state could not replace bad record: %v", err)
			}
		})
	}
}

func TestAttemptStoreSaveWritesIndexToValueAnswers(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	ctx := context.Background()

	st, _, _ := s.Load(ctx, storeKey, osDefinition())
	st.Answers[0] = model.AnswerRecord{QuestionIndex: 0, Value: "A"}
	st.Answers[2] = model.AnswerRecord{QuestionIndex: 2, Value: "free text"}
	if err := s.Save(ctx, storeKey, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := mr.Get(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID))
	if err != nil {
		t.Fatalf("raw record: %v", err)
	}
	var rec struct {
		CurrentQuestionIndex int               `json:"currentQuestionIndex"`
		Answers              map[string]string `json:"answers"`
		TimeRemainingSeconds int               `json:"timeRemainingSeconds"`
		Status               string            `json:"status"`
		Version              int64             `json:"version"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("record %s is not in index to value shape: %v", raw, err)
	}
	if rec.Answers["0"] != "A" || rec.Answers["2"] != "free text" || len(rec.Answers) != 2 {
		t.Errorf("answers = %v", rec.Answers)
	}
	if rec.TimeRemainingSeconds != 1800 || rec.Status != "in_progress" || rec.Version != 1 {
		t.Errorf("record = %s", raw)
	}
}

func TestAttemptStoreLoadRecordWithoutExamID(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	mr.Set(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID),
		`{"currentQuestionIndex":2,"answers":{"0":"A","1":"C"},"timeRemainingSeconds":600,"status":"in_progress","version":4}`)

	st, resumed, err := s.Load(context.Background(), storeKey, osDefinition())
	if err != nil || !resumed {
		t.Fatalf("Load: resumed=%v err=%v", resumed, err)
	}
	if st.ExamID != "os-101" || st.CurrentQuestionIndex != 2 || st.TimeRemainingSeconds != 600 || st.Version != 4 {
		t.Errorf("state = %+v", st)
	}
	if st.Answers[1] != (model.AnswerRecord{QuestionIndex: 1, Value: "C"}) {
		t.Errorf("answers = %+v", st.Answers)
	}
}

func TestAttemptOpenRecoversFromUnreadableRecord(t *testing.T) {
	records := []string{
		`{"examId":"os-101","currentQuestionIndex":1,"answers":{"0":{"value":"A"}},"timeRemainingSeconds":10,"status":"in_progress","version":3}`,
		`{"examId":"os-101","currentQuestionIndex":1,"answers":{"0":"A"},"timeRemainingSeconds":"x","status":"in_progress","version":3}`,
	}
	for _, raw := range records {
		mr, rdb := newTestRedis(t)
		s := NewAttemptStore(rdb, zerolog.Nop())
		ctx := context.Background()
		mr.Set(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID), raw)

		a, err := attempt.Open(ctx, storeKey, osDefinition(), s, attempt.WithInterval(time.Hour))
		if err != nil {
			t.Fatalf("Open over %s: %v", raw, err)
		}
		view := a.DisplayState()
		if view.QuestionIndex != 0 || view.AnsweredCount != 0 || view.TimeRemaining != 1800 {
			t.Errorf("view = %+v, want fresh attempt", view)
		}
		if _, err := a.AnswerCurrent(ctx, "B"); err != nil {
			t.Errorf("AnswerCurrent after recovery: %v", err)
		}
		a.Close()

		st, resumed, err := s.Load(ctx, storeKey, osDefinition())
		if err != nil || !resumed || st.Answers[0].Value != "B" {
			t.Errorf("after recovery: resumed=%v err=%v state=%+v", resumed, err, st)
		}
	}
}

func TestAttemptStoreLoadClampsRemaining(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	mr.Set(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID),
		`{"examId":"os-101","currentQuestionIndex":1,"answers":{"1":"B"},"timeRemainingSeconds":99999,"status":"in_progress","version":5}`)

	st, resumed, err := s.Load(context.Background(), storeKey, osDefinition())
	if err != nil || !resumed {
		t.Fatalf("Load: resumed=%v err=%v", resumed, err)
	}
	if st.TimeRemainingSeconds != 1800 {
		t.Errorf("remaining = %d, want 1800", st.TimeRemainingSeconds)
	}
	if st.Answers[1].Value != "B" {
		t.Errorf("answers = %+v", st.Answers)
	}
}

func TestAttemptStoreFinalizeOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	ctx := context.Background()

	st, _, _ := s.Load(ctx, storeKey, osDefinition())
	if err := s.Save(ctx, storeKey, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first := &model.ExamResult{ExamID: "os-101", ScorePercent: 67, CompletedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	got, err := s.Finalize(ctx, storeKey, first)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got != first {
		t.Error("first finalize did not return its own result")
	}
	if mr.Exists(config.CacheKey.SessionKey(storeKey.UserID, storeKey.ExamID)) {
		t.Error("session record survived finalize")
	}

	second := &model.ExamResult{ExamID: "os-101", ScorePercent: 100}
	got, err = s.Finalize(ctx, storeKey, second)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if got == second || got.ScorePercent != 67 {
		t.Errorf("second finalize overwrote the result: %+v", got)
	}

	queued, err := mr.List(config.WorkerKey.PersistResultsQueue)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("archive queue has %d jobs, want 1", len(queued))
	}

	stored, err := s.Result(ctx, storeKey)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if stored.ScorePercent != 67 || !stored.CompletedAt.Equal(first.CompletedAt) {
		t.Errorf("stored = %+v", stored)
	}
}

func TestAttemptStoreResultNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	if _, err := s.Result(context.Background(), storeKey); !errors.Is(err, attempt.ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
}

func TestAttemptStoreResultsNewestFirst(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewAttemptStore(rdb, zerolog.Nop())
	ctx := context.Background()

	older := &model.ExamResult{ExamID: "os-101", CompletedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := &model.ExamResult{ExamID: "ds-201", CompletedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	other := &model.ExamResult{ExamID: "os-101", CompletedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	s.Finalize(ctx, model.AttemptKey{UserID: 9, ExamID: "os-101"}, older)
	s.Finalize(ctx, model.AttemptKey{UserID: 9, ExamID: "ds-201"}, newer)
	s.Finalize(ctx, model.AttemptKey{UserID: 10, ExamID: "os-101"}, other)

	got, err := s.Results(ctx, 9)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(got) != 2 || got[0].ExamID != "ds-201" || got[1].ExamID != "os-101" {
		t.Errorf("Results = %+v", got)
	}
}
