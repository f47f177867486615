package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrInvalidExam  = errors.New("invalid exam definition")
)

// ExamSource is the durable store of exam definitions.
type ExamSource interface {
	GetByID(ctx context.Context, id string) (*model.ExamDefinition, error)
	ListIDs(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, def *model.ExamDefinition) error
}

// ExamService serves exam definitions from Redis, falling back to PostgreSQL.
type ExamService struct {
	repo ExamSource
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(repo ExamSource, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "exam_service").Logger(),
	}
}

// Get returns the full definition, answer key included.
// A cache miss is served from PostgreSQL and written back to Redis.
func (s *ExamService) Get(ctx context.Context, id string) (*model.ExamDefinition, error) {
	def, err := s.fromCache(ctx, id)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", id).Msg("Exam cache read failed, using database")
	}

	def, err = s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidExam, id, err)
	}

	// Self-heal: put it back in Redis so the next request is fast.
	if err := s.WarmCache(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id).Msg("Failed to re-cache exam")
	}
	return def, nil
}

func (s *ExamService) fromCache(ctx context.Context, id string) (*model.ExamDefinition, error) {
	pipe := s.rdb.Pipeline()
	payloadCmd := pipe.Get(ctx, config.CacheKey.ExamPayloadKey(id))
	keyCmd := pipe.HGetAll(ctx, config.CacheKey.ExamAnswerKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := payloadCmd.Bytes()
	if err != nil {
		return nil, err
	}
	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	answerKey := make(map[int]string, len(keyCmd.Val()))
	for field, correct := range keyCmd.Val() {
		idx, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("answer key field %q: %w", field, err)
		}
		answerKey[idx] = correct
	}

	def := model.DefinitionFromPayload(payload, answerKey)
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("cached exam %s: %w", id, err)
	}
	return def, nil
}

// WarmCache writes an exam's candidate payload and answer key to Redis.
func (s *ExamService) WarmCache(ctx context.Context, def *model.ExamDefinition) error {
	payloadJSON, err := json.Marshal(def.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	answerKey := make(map[string]any)
	for idx, correct := range def.AnswerKey() {
		answerKey[strconv.Itoa(idx)] = correct
	}

	// Cache both atomically via pipeline.
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(def.ID), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(def.ID))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(def.ID), answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", def.ID).
		Int("questions", def.QuestionCount()).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads every stored exam into Redis on application startup.
func (s *ExamService) PrewarmAll(ctx context.Context) error {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list exams: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming exams...")

	warmed := 0
	for _, id := range ids {
		def, err := s.repo.GetByID(ctx, id)
		if err == nil {
			err = def.Validate()
		}
		if err == nil {
			err = s.WarmCache(ctx, def)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", id).Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// Upsert validates and stores a definition, then refreshes its cache entry.
func (s *ExamService) Upsert(ctx context.Context, def *model.ExamDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExam, err)
	}
	if err := s.repo.Upsert(ctx, def); err != nil {
		return fmt.Errorf("store exam: %w", err)
	}
	if err := s.WarmCache(ctx, def); err != nil {
		return err
	}
	s.log.Info().Str("exam_id", def.ID).Int("questions", def.QuestionCount()).Msg("Exam stored")
	return nil
}
