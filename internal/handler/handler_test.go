package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/middleware"
	"github.com/stemsi/examhub/internal/model"
	"github.com/stemsi/examhub/internal/repository"
	"github.com/stemsi/examhub/internal/service"
	"github.com/stemsi/examhub/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// mapSource is an in-memory service.ExamSource.
type mapSource struct {
	mu    sync.Mutex
	exams map[string]*model.ExamDefinition
}

func (m *mapSource) GetByID(_ context.Context, id string) (*model.ExamDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *def
	return &cp, nil
}

func (m *mapSource) ListIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.exams))
	for id := range m.exams {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mapSource) Upsert(_ context.Context, def *model.ExamDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[def.ID] = def
	return nil
}

func osExam() *model.ExamDefinition {
	mc := func(i int, text, correct string) model.Question {
		return model.Question{
			Index: i, Text: text, Kind: model.QuestionKindMultipleChoice,
			Options: []string{"A", "B", "C", "X"}, CorrectOption: correct,
		}
	}
	return &model.ExamDefinition{
		ID:    "os-101",
		Title: "Operating Systems",
		Questions: []model.Question{
			mc(0, "Which scheduler is preemptive?", "A"),
			mc(1, "What does a TLB cache?", "B"),
			mc(2, "Which call creates a process?", "C"),
		},
		TotalDurationSeconds: 1800,
	}
}

// manualTicker hands out one channel that tests feed by hand.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time, 1)}
}

func (m *manualTicker) tickerFunc(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

type fixture struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	auth     *service.AuthService
	sessions *service.ExamSessionService
	ticker   *manualTicker
	engine   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zerolog.Nop()
	src := &mapSource{exams: map[string]*model.ExamDefinition{"os-101": osExam()}}
	exams := service.NewExamService(src, rdb, log)
	ticker := newManualTicker()
	sessions := service.NewExamSessionService(exams, repository.NewAttemptStore(rdb, log), nil,
		service.SessionOptions{Ticker: ticker.tickerFunc}, log)
	t.Cleanup(sessions.Shutdown)

	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	portal := NewStudentPortalHandler(sessions, log)
	wsh := NewWSHandler(sessions, log, nil)
	health := NewHealthHandler(nil, rdb, sessions, log)

	r := gin.New()
	r.GET("/health", health.Health)
	student := r.Group("/api/v1/student", middleware.RequireStudentJWT(auth))
	{
		student.GET("/results", portal.ListResults)
		exam := student.Group("/exams/:exam_id")
		exam.GET("/session", portal.GetSession)
		exam.DELETE("/session", portal.LeaveSession)
		exam.POST("/answer", portal.AnswerCurrent)
		exam.PUT("/answers/:index", portal.SetAnswer)
		exam.POST("/next", portal.Next)
		exam.POST("/previous", portal.Previous)
		exam.POST("/goto", portal.GoTo)
		exam.POST("/submit", portal.Submit)
		exam.GET("/result", portal.GetResult)
	}
	r.GET("/ws/v1/student/exams/:exam_id/stream", middleware.RequireStudentWSAuth(auth), wsh.ExamStream)

	return &fixture{mr: mr, rdb: rdb, auth: auth, sessions: sessions, ticker: ticker, engine: r}
}

func (f *fixture) token(t *testing.T, userID int) string {
	t.Helper()
	tok, err := f.auth.IssueToken(userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body, err)
	}
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}
