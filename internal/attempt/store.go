package attempt

import (
	"context"
	"errors"

	"github.com/stemsi/examhub/internal/model"
)

// Store errors.
var (
	ErrStaleSession   = errors.New("session was modified by another client")
	ErrResultNotFound = errors.New("exam result not found")
)

// Store is the only component touching attempt persistence.
//
// Load reports resumed=false, together with the default state, when no resumable
// session exists: the record is absent, unreadable, invalid for def, or completed.
// Save is a full-state write guarded by state.Version; on success the version is
// incremented in place. Finalize writes the result and removes the session record
// in one step, or returns the result that is already stored without writing.
type Store interface {
	Load(ctx context.Context, key model.AttemptKey, def *model.ExamDefinition) (model.SessionState, bool, error)
	Save(ctx context.Context, key model.AttemptKey, state *model.SessionState) error
	Clear(ctx context.Context, key model.AttemptKey) error
	Result(ctx context.Context, key model.AttemptKey) (*model.ExamResult, error)
	Finalizer
}

// Finalizer persists an attempt's result exactly once. It returns result itself
// when it was written, or the previously stored result when one already existed.
type Finalizer interface {
	Finalize(ctx context.Context, key model.AttemptKey, result *model.ExamResult) (*model.ExamResult, error)
}
