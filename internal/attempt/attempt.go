package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/model"
)

// Attempt errors.
var (
	ErrAttemptCompleted     = errors.New("attempt is already completed")
	ErrAttemptClosed        = errors.New("attempt is closed")
	ErrInvalidQuestionIndex = errors.New("question index out of range")
)

const (
	subscriberBuffer   = 16
	defaultSaveTimeout = 3 * time.Second
)

// EventType names what changed in an attempt.
type EventType string

const (
	EventState   EventType = "state"
	EventTick    EventType = "tick"
	EventExpired EventType = "expired"
	EventResult  EventType = "result"
	EventStale   EventType = "stale"
)

// Event is delivered to subscribers after the change it describes has been applied.
type Event struct {
	Type      EventType
	State     *model.DisplayState
	Remaining int
	Result    *model.ExamResult
}

// Option configures an Attempt.
type Option func(*options)

type options struct {
	scorer      Scorer
	ticker      TickerFunc
	interval    time.Duration
	now         func() time.Time
	log         zerolog.Logger
	onExpire    func()
	result      *model.ExamResult
	saveTimeout time.Duration
}

func WithScorer(s Scorer) Option            { return func(o *options) { o.scorer = s } }
func WithTicker(t TickerFunc) Option        { return func(o *options) { o.ticker = t } }
func WithInterval(d time.Duration) Option   { return func(o *options) { o.interval = d } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }
func WithLogger(l zerolog.Logger) Option    { return func(o *options) { o.log = l } }

// WithExpiryHandler registers fn to run, on its own goroutine, when the timer reaches zero.
func WithExpiryHandler(fn func()) Option { return func(o *options) { o.onExpire = fn } }

// WithResult opens the attempt as already finalized with res.
func WithResult(res *model.ExamResult) Option { return func(o *options) { o.result = res } }

// Attempt is one live exam attempt: cursor, answers, countdown and finalization
// behind a single lock. Every mutation is written through to the Store before it
// becomes visible.
type Attempt struct {
	mu sync.Mutex

	key   model.AttemptKey
	def   *model.ExamDefinition
	store Store
	opts  options
	log   zerolog.Logger

	state model.SessionState
	nav   Navigator
	timer *Countdown
	guard *Guard

	stale  bool
	closed bool

	cancelTicks context.CancelFunc
	ticksDone   chan struct{}

	subs      map[int]chan Event
	nextSubID int
}

// Open resumes the attempt identified by key, or starts it with the default state.
// An attempt whose result already exists opens completed and read-only.
func Open(ctx context.Context, key model.AttemptKey, def *model.ExamDefinition, store Store, opts ...Option) (*Attempt, error) {
	o := options{
		ticker:      SystemTicker,
		interval:    time.Second,
		now:         time.Now,
		log:         zerolog.Nop(),
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Attempt{
		key:   key,
		def:   def,
		store: store,
		opts:  o,
		log:   o.log,
		guard: NewGuard(o.scorer, store, o.now),
		subs:  make(map[int]chan Event),
	}

	prior := o.result
	if prior == nil {
		res, err := store.Result(ctx, key)
		switch {
		case err == nil:
			prior = res
		case errors.Is(err, ErrResultNotFound):
		default:
			return nil, fmt.Errorf("load result: %w", err)
		}
	}

	if prior != nil {
		a.guard.Restore(prior)
		a.state = model.NewSessionState(def)
		a.state.Status = model.SessionStatusCompleted
		a.state.TimeRemainingSeconds = 0
		a.nav = NewNavigator(0, def.QuestionCount())
		a.timer = NewCountdown(0)
		a.log.Debug().Msg("Opened completed attempt")
		return a, nil
	}

	state, resumed, err := store.Load(ctx, key, def)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !resumed {
		if err := store.Save(ctx, key, &state); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	a.state = state
	a.nav = NewNavigator(state.CurrentQuestionIndex, def.QuestionCount())
	a.timer = NewCountdown(state.TimeRemainingSeconds)

	a.mu.Lock()
	a.startTimerLocked()
	a.mu.Unlock()

	a.log.Info().
		Bool("resumed", resumed).
		Int("question_index", state.CurrentQuestionIndex).
		Int("remaining", state.TimeRemainingSeconds).
		Msg("Attempt opened")

	return a, nil
}

// Key returns the attempt identity.
func (a *Attempt) Key() model.AttemptKey { return a.key }

// Definition returns the exam being taken.
func (a *Attempt) Definition() *model.ExamDefinition { return a.def }

// DisplayState returns what the exam screen renders.
func (a *Attempt) DisplayState() model.DisplayState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.displayLocked()
}

// Snapshot returns a copy of the current session state.
func (a *Attempt) Snapshot() model.SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Result returns the finalized result, or nil while in progress.
func (a *Attempt) Result() *model.ExamResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.guard.Result()
}

// Stale reports whether another client has taken over the session.
func (a *Attempt) Stale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stale
}

// AnswerCurrent records value for the question under the cursor.
func (a *Attempt) AnswerCurrent(ctx context.Context, value string) (model.DisplayState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setAnswerLocked(ctx, a.nav.Index(), value)
}

// SetAnswer records value for any question, independent of the cursor.
func (a *Attempt) SetAnswer(ctx context.Context, index int, value string) (model.DisplayState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setAnswerLocked(ctx, index, value)
}

func (a *Attempt) setAnswerLocked(ctx context.Context, index int, value string) (model.DisplayState, error) {
	if err := a.writableLocked(); err != nil {
		return a.displayLocked(), err
	}
	if !a.def.ValidIndex(index) {
		return a.displayLocked(), ErrInvalidQuestionIndex
	}
	if rec, ok := a.state.Answers[index]; ok && rec.Value == value {
		return a.displayLocked(), nil
	}

	next := a.state.Clone()
	next.Answers[index] = model.AnswerRecord{QuestionIndex: index, Value: value}
	if err := a.commitLocked(ctx, next); err != nil {
		return a.displayLocked(), err
	}
	return a.displayLocked(), nil
}

// GoNext advances the cursor. moved is false at the last question.
func (a *Attempt) GoNext(ctx context.Context) (model.DisplayState, bool, error) {
	return a.navigate(ctx, (*Navigator).Next)
}

// GoPrevious moves the cursor back. moved is false at the first question.
func (a *Attempt) GoPrevious(ctx context.Context) (model.DisplayState, bool, error) {
	return a.navigate(ctx, (*Navigator).Previous)
}

// GoTo jumps to question i. Out-of-range targets are ignored.
func (a *Attempt) GoTo(ctx context.Context, i int) (model.DisplayState, bool, error) {
	return a.navigate(ctx, func(n *Navigator) bool { return n.GoTo(i) })
}

func (a *Attempt) navigate(ctx context.Context, move func(*Navigator) bool) (model.DisplayState, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writableLocked(); err != nil {
		return a.displayLocked(), false, err
	}

	nav := a.nav
	if !move(&nav) {
		return a.displayLocked(), false, nil
	}

	next := a.state.Clone()
	next.CurrentQuestionIndex = nav.Index()
	if err := a.commitLocked(ctx, next); err != nil {
		return a.displayLocked(), false, err
	}
	return a.displayLocked(), true, nil
}

// Submit finalizes the attempt: the timer stops, answers are scored once, the
// result is stored and the session record removed. Later calls return the same
// result without scoring again.
func (a *Attempt) Submit(ctx context.Context) (*model.ExamResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if res := a.guard.Result(); res != nil {
		return res, nil
	}
	if a.stale {
		return nil, ErrStaleSession
	}
	if a.closed {
		return nil, ErrAttemptClosed
	}

	res, fresh, err := a.guard.Submit(ctx, a.key, a.def, a.state.Answers)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	a.stopTimerLocked()
	a.state.Status = model.SessionStatusCompleted

	a.log.Info().
		Bool("fresh", fresh).
		Int("score", res.ScorePercent).
		Int("correct", res.CorrectCount).
		Int("total", res.MultipleChoiceCount).
		Msg("Attempt submitted and graded")

	a.publishLocked(Event{Type: EventResult, Result: res})
	return res, nil
}

// Subscribe returns a channel of events and a cancel function. Slow subscribers
// miss events rather than block the attempt.
func (a *Attempt) Subscribe() (<-chan Event, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if a.closed {
		close(ch)
		return ch, func() {}
	}

	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (a *Attempt) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Close tears the attempt down: the timer is cancelled and the tick goroutine
// has exited by the time Close returns. Persisted state is left as is.
func (a *Attempt) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopTimerLocked()
	done := a.ticksDone
	a.ticksDone = nil
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
	a.mu.Unlock()

	if done != nil {
		<-done
	}
	a.log.Debug().Msg("Attempt closed")
}

// ─── Internals (callers hold a.mu) ─────────────────────────────────────

func (a *Attempt) writableLocked() error {
	switch {
	case a.guard.Completed():
		return ErrAttemptCompleted
	case a.stale:
		return ErrStaleSession
	case a.closed:
		return ErrAttemptClosed
	}
	return nil
}

// commitLocked saves next and makes it current only when the save succeeded.
func (a *Attempt) commitLocked(ctx context.Context, next model.SessionState) error {
	if err := a.store.Save(ctx, a.key, &next); err != nil {
		if errors.Is(err, ErrStaleSession) {
			a.markStaleLocked()
		}
		return err
	}

	a.state = next
	a.nav = NewNavigator(next.CurrentQuestionIndex, a.def.QuestionCount())

	ds := a.displayLocked()
	a.publishLocked(Event{Type: EventState, State: &ds})
	return nil
}

func (a *Attempt) displayLocked() model.DisplayState {
	idx := a.nav.Index()
	rec, answered := a.state.Answers[idx]
	return model.DisplayState{
		ExamID:         a.def.ID,
		Title:          a.def.Title,
		QuestionIndex:  idx,
		QuestionCount:  a.def.QuestionCount(),
		Question:       a.def.Questions[idx].View(),
		SelectedAnswer: rec.Value,
		HasAnswer:      answered,
		AnsweredCount:  len(a.state.Answers),
		TimeRemaining:  a.state.TimeRemainingSeconds,
		IsLastQuestion: a.nav.IsLast(),
		Status:         a.state.Status,
	}
}

func (a *Attempt) publishLocked(ev Event) {
	for _, ch := range a.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (a *Attempt) markStaleLocked() {
	if a.stale {
		return
	}
	a.stale = true
	a.stopTimerLocked()
	a.log.Warn().Msg("Session taken over by another client")
	a.publishLocked(Event{Type: EventStale})
}

func (a *Attempt) startTimerLocked() {
	if a.state.Status != model.SessionStatusInProgress || a.stale || a.closed {
		return
	}
	if !a.timer.Start() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, stop := a.opts.ticker(a.opts.interval)
	done := make(chan struct{})

	a.cancelTicks = cancel
	a.ticksDone = done

	go a.runTicks(ctx, ch, stop, done)
}

func (a *Attempt) stopTimerLocked() {
	a.timer.Stop()
	if a.cancelTicks != nil {
		a.cancelTicks()
		a.cancelTicks = nil
	}
}

func (a *Attempt) runTicks(ctx context.Context, ch <-chan time.Time, stop func(), done chan struct{}) {
	defer close(done)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			a.tick(ctx)
		}
	}
}

// tick applies one countdown step. It runs on the tick goroutine and is gated by
// Countdown.Running under a.mu, so nothing is delivered once the timer is stopped.
func (a *Attempt) tick(ctx context.Context) {
	a.mu.Lock()

	if !a.timer.Running() {
		a.mu.Unlock()
		return
	}

	remaining, expired := a.timer.Tick()
	a.state.TimeRemainingSeconds = remaining

	snapshot := a.state.Clone()
	saveCtx, cancel := context.WithTimeout(ctx, a.opts.saveTimeout)
	err := a.store.Save(saveCtx, a.key, &snapshot)
	cancel()

	switch {
	case err == nil:
		a.state.Version = snapshot.Version
	case errors.Is(err, ErrStaleSession):
		a.markStaleLocked()
		a.mu.Unlock()
		return
	default:
		a.log.Warn().Err(err).Int("remaining", remaining).Msg("Tick save failed")
	}

	a.publishLocked(Event{Type: EventTick, Remaining: remaining})

	var onExpire func()
	if expired {
		a.stopTimerLocked()
		a.publishLocked(Event{Type: EventExpired})
		onExpire = a.opts.onExpire
		a.log.Info().Msg("Timer expired")
	}
	a.mu.Unlock()

	if onExpire != nil {
		go onExpire()
	}
}
