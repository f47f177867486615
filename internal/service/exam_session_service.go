package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/attempt"
	"github.com/stemsi/examhub/internal/logger"
	"github.com/stemsi/examhub/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const autoSubmitTimeout = 10 * time.Second

// ErrShuttingDown is returned for opens after Shutdown.
var ErrShuttingDown = errors.New("exam session service is shutting down")

// DefinitionProvider resolves exam definitions.
type DefinitionProvider interface {
	Get(ctx context.Context, id string) (*model.ExamDefinition, error)
}

// SessionStore is the attempt store plus per-user result listing.
type SessionStore interface {
	attempt.Store
	Results(ctx context.Context, userID int) ([]model.ExamResult, error)
}

// ResultArchive is the durable copy of finalized results.
type ResultArchive interface {
	GetByUserAndExam(ctx context.Context, userID int, examID string) (*model.ExamResult, error)
	ListByUser(ctx context.Context, userID int) ([]model.ExamResult, error)
}

// SessionOptions tunes live attempts.
type SessionOptions struct {
	TickInterval       time.Duration
	AutoSubmitOnExpiry bool
	IdleTimeout        time.Duration

	// Ticker, Clock and Scorer default to the real implementations.
	Ticker attempt.TickerFunc
	Clock  func() time.Time
	Scorer attempt.Scorer
}

type liveAttempt struct {
	*attempt.Attempt
	lastUsed atomic.Int64
}

// ExamSessionService owns the live attempts of this process, one per (user, exam).
type ExamSessionService struct {
	exams   DefinitionProvider
	store   SessionStore
	archive ResultArchive
	opts    SessionOptions
	log     zerolog.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	live     map[model.AttemptKey]*liveAttempt
	opening  singleflight.Group
	shutdown bool
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams DefinitionProvider,
	store SessionStore,
	archive ResultArchive,
	opts SessionOptions,
	log zerolog.Logger,
) *ExamSessionService {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Ticker == nil {
		opts.Ticker = attempt.SystemTicker
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ExamSessionService{
		exams:   exams,
		store:   store,
		archive: archive,
		opts:    opts,
		log:     log.With().Str("component", "exam_session_service").Logger(),
		tracer:  otel.Tracer("github.com/stemsi/examhub/internal/service"),
		live:    make(map[model.AttemptKey]*liveAttempt),
	}
}

// Open returns the live attempt for key, resuming or creating it.
func (s *ExamSessionService) Open(ctx context.Context, key model.AttemptKey) (*attempt.Attempt, error) {
	if la := s.lookup(key); la != nil {
		return la.Attempt, nil
	}

	v, err, _ := s.opening.Do(key.String(), func() (any, error) {
		if la := s.lookup(key); la != nil {
			return la.Attempt, nil
		}
		return s.create(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*attempt.Attempt), nil
}

// lookup returns a usable registered attempt, evicting a stale one.
func (s *ExamSessionService) lookup(key model.AttemptKey) *liveAttempt {
	s.mu.Lock()
	la, ok := s.live[key]
	if ok && la.Stale() {
		delete(s.live, key)
		s.mu.Unlock()
		la.Close()
		return nil
	}
	s.mu.Unlock()

	if ok {
		s.touch(la)
		return la
	}
	return nil
}

func (s *ExamSessionService) create(ctx context.Context, key model.AttemptKey) (*attempt.Attempt, error) {
	ctx, span := s.tracer.Start(ctx, "ExamSession.Open", trace.WithAttributes(
		attribute.Int("user.id", key.UserID),
		attribute.String("exam.id", key.ExamID),
	))
	defer span.End()

	def, err := s.exams.Get(ctx, key.ExamID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "definition")
		return nil, err
	}

	prior, err := s.priorResult(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prior result")
		return nil, err
	}

	opts := []attempt.Option{
		attempt.WithTicker(s.opts.Ticker),
		attempt.WithInterval(s.opts.TickInterval),
		attempt.WithClock(s.opts.Clock),
		attempt.WithLogger(logger.ForAttempt(s.log, key.UserID, key.ExamID)),
	}
	if s.opts.Scorer != nil {
		opts = append(opts, attempt.WithScorer(s.opts.Scorer))
	}
	if prior != nil {
		opts = append(opts, attempt.WithResult(prior))
	}
	if s.opts.AutoSubmitOnExpiry {
		opts = append(opts, attempt.WithExpiryHandler(s.autoSubmit(key)))
	}

	a, err := attempt.Open(ctx, key, def, s.store, opts...)
	if errors.Is(err, attempt.ErrStaleSession) {
		// Another writer created the record between load and first save.
		a, err = attempt.Open(ctx, key, def, s.store, opts...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open")
		return nil, fmt.Errorf("open attempt: %w", err)
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		a.Close()
		return nil, ErrShuttingDown
	}
	la := &liveAttempt{Attempt: a}
	la.lastUsed.Store(s.opts.Clock().UnixNano())
	s.live[key] = la
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool("attempt.completed", prior != nil))
	return a, nil
}

// priorResult finds a finalized result in Redis, then in the archive.
func (s *ExamSessionService) priorResult(ctx context.Context, key model.AttemptKey) (*model.ExamResult, error) {
	res, err := s.store.Result(ctx, key)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, attempt.ErrResultNotFound) {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if s.archive == nil {
		return nil, nil
	}

	res, err = s.archive.GetByUserAndExam(ctx, key.UserID, key.ExamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archived result: %w", err)
	}
	return res, nil
}

func (s *ExamSessionService) touch(la *liveAttempt) {
	la.lastUsed.Store(s.opts.Clock().UnixNano())
}

// with runs fn against the live attempt. An attempt closed underneath the
// call (reaped or released) is reopened once; a stale one is evicted.
func (s *ExamSessionService) with(ctx context.Context, key model.AttemptKey, fn func(*attempt.Attempt) error) error {
	for i := 0; ; i++ {
		a, err := s.Open(ctx, key)
		if err != nil {
			return err
		}
		err = fn(a)
		switch {
		case errors.Is(err, attempt.ErrAttemptClosed) && i == 0:
			s.forget(key, a)
			continue
		case errors.Is(err, attempt.ErrStaleSession):
			s.forget(key, a)
		}
		return err
	}
}

// forget removes a from the registry if it is still the registered attempt, and closes it.
func (s *ExamSessionService) forget(key model.AttemptKey, a *attempt.Attempt) {
	s.mu.Lock()
	if la, ok := s.live[key]; ok && la.Attempt == a {
		delete(s.live, key)
	}
	s.mu.Unlock()
	a.Close()
}

// State returns the display state, opening the attempt if needed.
func (s *ExamSessionService) State(ctx context.Context, key model.AttemptKey) (model.DisplayState, error) {
	var ds model.DisplayState
	err := s.with(ctx, key, func(a *attempt.Attempt) error {
		if a.Stale() {
			return attempt.ErrStaleSession
		}
		ds = a.DisplayState()
		return nil
	})
	return ds, err
}

// Answer records value for the current question.
func (s *ExamSessionService) Answer(ctx context.Context, key model.AttemptKey, value string) (model.DisplayState, error) {
	var ds model.DisplayState
	err := s.with(ctx, key, func(a *attempt.Attempt) (err error) {
		ds, err = a.AnswerCurrent(ctx, value)
		return err
	})
	return ds, err
}

// SetAnswer records value for question index.
func (s *ExamSessionService) SetAnswer(ctx context.Context, key model.AttemptKey, index int, value string) (model.DisplayState, error) {
	var ds model.DisplayState
	err := s.with(ctx, key, func(a *attempt.Attempt) (err error) {
		ds, err = a.SetAnswer(ctx, index, value)
		return err
	})
	return ds, err
}

// Next moves to the next question.
func (s *ExamSessionService) Next(ctx context.Context, key model.AttemptKey) (model.DisplayState, bool, error) {
	return s.move(ctx, key, func(a *attempt.Attempt) (model.DisplayState, bool, error) { return a.GoNext(ctx) })
}

// Previous moves to the previous question.
func (s *ExamSessionService) Previous(ctx context.Context, key model.AttemptKey) (model.DisplayState, bool, error) {
	return s.move(ctx, key, func(a *attempt.Attempt) (model.DisplayState, bool, error) { return a.GoPrevious(ctx) })
}

// GoTo jumps to question index.
func (s *ExamSessionService) GoTo(ctx context.Context, key model.AttemptKey, index int) (model.DisplayState, bool, error) {
	return s.move(ctx, key, func(a *attempt.Attempt) (model.DisplayState, bool, error) { return a.GoTo(ctx, index) })
}

func (s *ExamSessionService) move(ctx context.Context, key model.AttemptKey, fn func(*attempt.Attempt) (model.DisplayState, bool, error)) (model.DisplayState, bool, error) {
	var (
		ds    model.DisplayState
		moved bool
	)
	err := s.with(ctx, key, func(a *attempt.Attempt) (err error) {
		ds, moved, err = fn(a)
		return err
	})
	return ds, moved, err
}

// Submit finalizes the attempt and returns its result and where the UI goes next.
func (s *ExamSessionService) Submit(ctx context.Context, key model.AttemptKey) (*model.ExamResult, model.Destination, error) {
	ctx, span := s.tracer.Start(ctx, "ExamSession.Submit", trace.WithAttributes(
		attribute.Int("user.id", key.UserID),
		attribute.String("exam.id", key.ExamID),
	))
	defer span.End()

	var res *model.ExamResult
	err := s.with(ctx, key, func(a *attempt.Attempt) (err error) {
		res, err = a.Submit(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit")
		return nil, "", err
	}

	span.SetAttributes(attribute.Int("result.score_percent", res.ScorePercent))
	return res, model.DestinationFeedback, nil
}

func (s *ExamSessionService) autoSubmit(key model.AttemptKey) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), autoSubmitTimeout)
		defer cancel()

		res, _, err := s.Submit(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Auto-submit on expiry failed")
			return
		}
		s.log.Info().
			Str("attempt", key.String()).
			Int("score", res.ScorePercent).
			Msg("Attempt auto-submitted on expiry")
	}
}

// Subscribe opens the attempt and subscribes to its events.
func (s *ExamSessionService) Subscribe(ctx context.Context, key model.AttemptKey) (model.DisplayState, <-chan attempt.Event, func(), error) {
	a, err := s.Open(ctx, key)
	if err != nil {
		return model.DisplayState{}, nil, nil, err
	}
	if a.Stale() {
		s.forget(key, a)
		return model.DisplayState{}, nil, nil, attempt.ErrStaleSession
	}
	ch, cancel := a.Subscribe()
	return a.DisplayState(), ch, cancel, nil
}

// Release tears down the live attempt once nobody is subscribed to it.
// The persisted session is kept so the attempt can resume later.
func (s *ExamSessionService) Release(key model.AttemptKey) bool {
	s.mu.Lock()
	la, ok := s.live[key]
	if !ok || la.Subscribers() > 0 {
		s.mu.Unlock()
		return false
	}
	delete(s.live, key)
	s.mu.Unlock()

	la.Close()
	s.log.Debug().Str("attempt", key.String()).Msg("Attempt released")
	return true
}

// Result returns the finalized result of an attempt.
func (s *ExamSessionService) Result(ctx context.Context, key model.AttemptKey) (*model.ExamResult, error) {
	s.mu.Lock()
	la, ok := s.live[key]
	s.mu.Unlock()
	if ok {
		if res := la.Result(); res != nil {
			return res, nil
		}
	}

	res, err := s.priorResult(ctx, key)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, attempt.ErrResultNotFound
	}
	return res, nil
}

// History lists the user's completed exams, newest first.
func (s *ExamSessionService) History(ctx context.Context, userID int) ([]model.ExamResult, error) {
	recent, err := s.store.Results(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cached results: %w", err)
	}

	var archived []model.ExamResult
	if s.archive != nil {
		archived, err = s.archive.ListByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list archived results: %w", err)
		}
	}

	seen := make(map[string]bool, len(recent)+len(archived))
	history := make([]model.ExamResult, 0, len(recent)+len(archived))
	for _, list := range [][]model.ExamResult{recent, archived} {
		for _, res := range list {
			if seen[res.ExamID] {
				continue
			}
			seen[res.ExamID] = true
			history = append(history, res)
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CompletedAt.After(history[j].CompletedAt)
	})
	return history, nil
}

// StartReaper releases attempts nobody has used or watched for IdleTimeout.
// It blocks until ctx is cancelled.
func (s *ExamSessionService) StartReaper(ctx context.Context) {
	if s.opts.IdleTimeout <= 0 {
		return
	}
	interval := s.opts.IdleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	s.log.Info().Dur("idle_timeout", s.opts.IdleTimeout).Msg("Attempt reaper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.reapIdle(); n > 0 {
				s.log.Info().Int("released", n).Msg("Released idle attempts")
			}
		}
	}
}

func (s *ExamSessionService) reapIdle() int {
	cutoff := s.opts.Clock().Add(-s.opts.IdleTimeout).UnixNano()

	s.mu.Lock()
	var idle []*liveAttempt
	for key, la := range s.live {
		if la.Subscribers() == 0 && la.lastUsed.Load() < cutoff {
			delete(s.live, key)
			idle = append(idle, la)
		}
	}
	s.mu.Unlock()

	for _, la := range idle {
		la.Close()
	}
	return len(idle)
}

// Live returns the number of attempts held in memory.
func (s *ExamSessionService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown closes every live attempt. Persisted state is kept.
func (s *ExamSessionService) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	live := s.live
	s.live = make(map[model.AttemptKey]*liveAttempt)
	s.mu.Unlock()

	for _, la := range live {
		la.Close()
	}
	s.log.Info().Int("closed", len(live)).Msg("Live attempts closed")
}
