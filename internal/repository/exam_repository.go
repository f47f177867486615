package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examhub/internal/model"
)

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam and its questions, ordered by index.
// Returns pgx.ErrNoRows when the exam does not exist.
func (r *ExamRepository) GetByID(ctx context.Context, id string) (*model.ExamDefinition, error) {
	def := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, total_duration_seconds
		 FROM exams WHERE id = $1`, id,
	).Scan(&def.ID, &def.Title, &def.TotalDurationSeconds)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT idx, text, kind, options, COALESCE(correct_option, '')
		 FROM exam_questions WHERE exam_id = $1
		 ORDER BY idx`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.Index, &q.Text, &q.Kind, &q.Options, &q.CorrectOption); err != nil {
			return nil, err
		}
		def.Questions = append(def.Questions, q)
	}
	return def, rows.Err()
}

// ListIDs returns the ids of all stored exams.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM exams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upsert replaces an exam and all of its questions in one transaction.
func (r *ExamRepository) Upsert(ctx context.Context, def *model.ExamDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO exams (id, title, total_duration_seconds)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     total_duration_seconds = EXCLUDED.total_duration_seconds,
		     updated_at = NOW()`,
		def.ID, def.Title, def.TotalDurationSeconds)
	if err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, def.ID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"exam_questions"},
		[]string{"exam_id", "idx", "text", "kind", "options", "correct_option"},
		pgx.CopyFromSlice(len(def.Questions), func(i int) ([]any, error) {
			q := def.Questions[i]
			var correct *string
			if q.IsMultipleChoice() {
				correct = &q.CorrectOption
			}
			options := q.Options
			if options == nil {
				options = []string{}
			}
			return []any{def.ID, q.Index, q.Text, string(q.Kind), options, correct}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy questions: %w", err)
	}

	return tx.Commit(ctx)
}
