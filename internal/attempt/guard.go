package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/stemsi/examhub/internal/model"
)

// Guard enforces at-most-once finalization of an attempt.
// It is not safe for concurrent use; the owning Attempt serializes calls.
type Guard struct {
	scorer    Scorer
	finalizer Finalizer
	now       func() time.Time
	result    *model.ExamResult
}

// NewGuard creates a Guard for one attempt.
func NewGuard(scorer Scorer, finalizer Finalizer, now func() time.Time) *Guard {
	if scorer == nil {
		scorer = DefaultScorer
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{scorer: scorer, finalizer: finalizer, now: now}
}

// Restore marks the attempt as already finalized with res.
func (g *Guard) Restore(res *model.ExamResult) {
	g.result = res
}

// Completed reports whether the attempt has been finalized.
func (g *Guard) Completed() bool {
	return g.result != nil
}

// Result returns the finalized result, or nil.
func (g *Guard) Result() *model.ExamResult {
	return g.result
}

// Submit scores the answers and persists the result. Once a result exists it is
// returned as is and the scorer is not consulted again. fresh is true only for
// the call that produced the result. When the finalizer already holds a result
// (another client finished first) that result is adopted.
func (g *Guard) Submit(ctx context.Context, key model.AttemptKey, def *model.ExamDefinition, answers map[int]model.AnswerRecord) (res *model.ExamResult, fresh bool, err error) {
	if g.result != nil {
		return g.result, false, nil
	}
	if g.finalizer == nil {
		return nil, false, errors.New("guard has no finalizer")
	}

	scored := g.scorer.Score(def, answers)
	scored.CompletedAt = g.now().UTC().Truncate(time.Second)

	stored, err := g.finalizer.Finalize(ctx, key, &scored)
	if err != nil {
		return nil, false, err
	}

	g.result = stored
	return stored, stored == &scored, nil
}
