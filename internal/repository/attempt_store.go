package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/attempt"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/model"
)

// maxTxRetries bounds optimistic transaction retries on concurrent writes.
const maxTxRetries = 5

// AttemptStore persists attempt sessions and results in Redis.
//
// Session records live at user:{id}:session:{examId} and carry their version
// token. Results live at user:{id}:result:{examId}; finalizing also queues the
// result for the Postgres archive.
type AttemptStore struct {
	rdb *redis.Client
	log zerolog.Logger
}

var _ attempt.Store = (*AttemptStore)(nil)

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(rdb *redis.Client, log zerolog.Logger) *AttemptStore {
	return &AttemptStore{
		rdb: rdb,
		log: log.With().Str("component", "attempt_store").Logger(),
	}
}

// Load reads the session record. Anything that cannot be resumed yields the
// default state for def with resumed=false; its version still matches the
// stored record so the first save may replace it.
func (s *AttemptStore) Load(ctx context.Context, key model.AttemptKey, def *model.ExamDefinition) (model.SessionState, bool, error) {
	fresh := model.NewSessionState(def)

	data, err := s.rdb.Get(ctx, config.CacheKey.SessionKey(key.UserID, key.ExamID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fresh, false, nil
	}
	if err != nil {
		return model.SessionState{}, false, fmt.Errorf("get session: %w", err)
	}

	st, err := decodeSession(data)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Unreadable session record, starting fresh")
		return fresh, false, nil
	}
	fresh.Version = st.Version

	if st.TimeRemainingSeconds > def.TotalDurationSeconds {
		st.TimeRemainingSeconds = def.TotalDurationSeconds
	}
	if st.TimeRemainingSeconds < 0 {
		st.TimeRemainingSeconds = 0
	}

	if st.ExamID == "" {
		st.ExamID = def.ID
	}
	switch {
	case st.ExamID != def.ID:
		s.log.Warn().Str("attempt", key.String()).Str("stored_exam", st.ExamID).Msg("Session record belongs to another exam")
		return fresh, false, nil
	case st.Status != model.SessionStatusInProgress:
		return fresh, false, nil
	}
	if err := st.Validate(def); err != nil {
		s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Invalid session record, starting fresh")
		return fresh, false, nil
	}
	return st, true, nil
}

// Save writes the full state if the stored version still equals state.Version,
// then bumps state.Version. A mismatch returns attempt.ErrStaleSession.
func (s *AttemptStore) Save(ctx context.Context, key model.AttemptKey, state *model.SessionState) error {
	sessionKey := config.CacheKey.SessionKey(key.UserID, key.ExamID)

	next := state.Clone()
	next.Version = state.Version + 1
	data, err := encodeSession(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, sessionKey)
		if err != nil {
			return err
		}
		if current != state.Version {
			return attempt.ErrStaleSession
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, txf, sessionKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		state.Version = next.Version
		return nil
	}
	return attempt.ErrStaleSession
}

// storedVersion returns the version of the record at key. Absent records and
// records decodeSession rejects count as 0, the version Load hands out for them.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get session: %w", err)
	}
	st, err := decodeSession(data)
	if err != nil {
		return 0, nil
	}
	return st.Version, nil
}

// Clear removes the session record.
func (s *AttemptStore) Clear(ctx context.Context, key model.AttemptKey) error {
	if err := s.rdb.Del(ctx, config.CacheKey.SessionKey(key.UserID, key.ExamID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Result returns the stored result or attempt.ErrResultNotFound.
func (s *AttemptStore) Result(ctx context.Context, key model.AttemptKey) (*model.ExamResult, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ResultKey(key.UserID, key.ExamID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, attempt.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res model.ExamResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// Finalize stores result, deletes the session record and queues the result for
// archiving in one transaction. If a result is already stored nothing is written
// and the stored result is returned.
func (s *AttemptStore) Finalize(ctx context.Context, key model.AttemptKey, result *model.ExamResult) (*model.ExamResult, error) {
	resultKey := config.CacheKey.ResultKey(key.UserID, key.ExamID)
	sessionKey := config.CacheKey.SessionKey(key.UserID, key.ExamID)

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	job, err := json.Marshal(model.ArchivedResult{UserID: key.UserID, Result: *result})
	if err != nil {
		return nil, fmt.Errorf("marshal archive job: %w", err)
	}

	var existing *model.ExamResult
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, resultKey).Bytes()
		if err == nil {
			var prior model.ExamResult
			if err := json.Unmarshal(raw, &prior); err != nil {
				return fmt.Errorf("unmarshal stored result: %w", err)
			}
			existing = &prior
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get result: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, resultKey, data, 0)
			pipe.Del(ctx, sessionKey)
			pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, job)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		existing = nil
		err = s.rdb.Watch(ctx, txf, resultKey, sessionKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.log.Info().Str("attempt", key.String()).Msg("Result already finalized, keeping stored result")
			return existing, nil
		}
		return result, nil
	}
	return nil, fmt.Errorf("finalize %s: %w", key, redis.TxFailedErr)
}

// Results returns every result still held in Redis for a user, newest first.
func (s *AttemptStore) Results(ctx context.Context, userID int) ([]model.ExamResult, error) {
	pattern := config.CacheKey.ResultKey(userID, "*")

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	if len(keys) == 0 {
		return []model.ExamResult{}, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget results: %w", err)
	}

	results := make([]model.ExamResult, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var res model.ExamResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			s.log.Warn().Err(err).Str("key", keys[i]).Msg("Skipping unreadable result")
			continue
		}
		if res.ExamID == "" {
			res.ExamID = strings.TrimPrefix(keys[i], config.CacheKey.ResultKey(userID, ""))
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CompletedAt.After(results[j].CompletedAt)
	})
	return results, nil
}
