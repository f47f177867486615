package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examhub/internal/model"
)

// ResultRepository is the durable archive of finalized exam results.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `exam_id, title, score_percent, correct_count, multiple_choice_count,
	per_question_correctness, pending_review, feedback, completed_at`

// InsertBatch archives results. A row already present for (user_id, exam_id) is
// kept, so the first finalized result always wins.
func (r *ResultRepository) InsertBatch(ctx context.Context, batch []model.ArchivedResult) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, a := range batch {
		args, err := resultArgs(a)
		if err != nil {
			return err
		}
		b.Queue(insertResultSQL, args...)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()
	for range batch {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Insert archives a single result.
func (r *ResultRepository) Insert(ctx context.Context, a model.ArchivedResult) error {
	args, err := resultArgs(a)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, insertResultSQL, args...)
	return err
}

const insertResultSQL = `INSERT INTO exam_results (user_id, ` + resultColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (user_id, exam_id) DO NOTHING`

func resultArgs(a model.ArchivedResult) ([]any, error) {
	res := a.Result
	correctness, err := json.Marshal(res.PerQuestionCorrectness)
	if err != nil {
		return nil, fmt.Errorf("marshal correctness: %w", err)
	}
	pending, err := json.Marshal(res.PendingReview)
	if err != nil {
		return nil, fmt.Errorf("marshal pending review: %w", err)
	}
	feedback, err := json.Marshal(res.Feedback)
	if err != nil {
		return nil, fmt.Errorf("marshal feedback: %w", err)
	}
	return []any{
		a.UserID, res.ExamID, res.Title, res.ScorePercent, res.CorrectCount, res.MultipleChoiceCount,
		correctness, pending, feedback, res.CompletedAt,
	}, nil
}

// GetByUserAndExam retrieves one archived result. Returns pgx.ErrNoRows when absent.
func (r *ResultRepository) GetByUserAndExam(ctx context.Context, userID int, examID string) (*model.ExamResult, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+`
		 FROM exam_results
		 WHERE user_id = $1 AND exam_id = $2`, userID, examID)
	return scanResult(row)
}

// ListByUser retrieves a user's archived results, newest first.
func (r *ResultRepository) ListByUser(ctx context.Context, userID int) ([]model.ExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+`
		 FROM exam_results
		 WHERE user_id = $1
		 ORDER BY completed_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ExamResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

func scanResult(row pgx.Row) (*model.ExamResult, error) {
	var (
		res                            model.ExamResult
		correctness, pending, feedback []byte
	)
	err := row.Scan(&res.ExamID, &res.Title, &res.ScorePercent, &res.CorrectCount, &res.MultipleChoiceCount,
		&correctness, &pending, &feedback, &res.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(correctness, &res.PerQuestionCorrectness); err != nil {
		return nil, fmt.Errorf("unmarshal correctness: %w", err)
	}
	if err := json.Unmarshal(pending, &res.PendingReview); err != nil {
		return nil, fmt.Errorf("unmarshal pending review: %w", err)
	}
	if err := json.Unmarshal(feedback, &res.Feedback); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	res.CompletedAt = res.CompletedAt.UTC()
	return &res, nil
}
