package attempt

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/examhub/internal/model"
)

func mcQuestion(i int, correct string) model.Question {
	return model.Question{
		Index:         i,
		Text:          "question",
		Kind:          model.QuestionKindMultipleChoice,
		Options:       []string{"A", "B", "C", "D", "X"},
		CorrectOption: correct,
	}
}

func freeQuestion(i int) model.Question {
	return model.Question{Index: i, Text: "explain", Kind: model.QuestionKindFreeText}
}

func testExam(id string, duration int, qs ...model.Question) *model.ExamDefinition {
	return &model.ExamDefinition{ID: id, Title: "Test " + id, Questions: qs, TotalDurationSeconds: duration}
}

func osExam() *model.ExamDefinition {
	return testExam("os-101", 1800, mcQuestion(0, "A"), mcQuestion(1, "B"), mcQuestion(2, "C"))
}

// fakeStore is an in-memory Store with the same version semantics as the Redis store.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[model.AttemptKey]model.SessionState
	results  map[model.AttemptKey]*model.ExamResult

	saves     int
	finalizes int
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[model.AttemptKey]model.SessionState),
		results:  make(map[model.AttemptKey]*model.ExamResult),
	}
}

func (s *fakeStore) Load(_ context.Context, key model.AttemptKey, def *model.ExamDefinition) (model.SessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[key]
	if !ok || st.Status != model.SessionStatusInProgress || st.Validate(def) != nil {
		fresh := model.NewSessionState(def)
		if ok {
			fresh.Version = st.Version
		}
		return fresh, false, nil
	}
	return st.Clone(), true, nil
}

func (s *fakeStore) Save(_ context.Context, key model.AttemptKey, state *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if cur := s.sessions[key]; cur.Version != state.Version {
		return ErrStaleSession
	}
	state.Version++
	s.sessions[key] = state.Clone()
	s.saves++
	return nil
}

func (s *fakeStore) Clear(_ context.Context, key model.AttemptKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *fakeStore) Result(_ context.Context, key model.AttemptKey) (*model.ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.results[key]; ok {
		return res, nil
	}
	return nil, ErrResultNotFound
}

func (s *fakeStore) Finalize(_ context.Context, key model.AttemptKey, res *model.ExamResult) (*model.ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	if prior, ok := s.results[key]; ok {
		return prior, nil
	}
	s.results[key] = res
	delete(s.sessions, key)
	return res, nil
}

func (s *fakeStore) session(key model.AttemptKey) (model.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[key]
	return st.Clone(), ok
}

// bump simulates a write from another client.
func (s *fakeStore) bump(key model.AttemptKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sessions[key]
	st.Version++
	s.sessions[key] = st
}

// manualTicker hands out one channel the test drives by hand.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) Func(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() { m.once.Do(func() { close(m.stopped) }) }
}

// fire delivers one tick and reports whether the tick goroutine accepted it.
func (m *manualTicker) fire() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

type countingScorer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingScorer) Score(def *model.ExamDefinition, answers map[int]model.AnswerRecord) model.ExamResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return Score(def, answers)
}

func (c *countingScorer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
