package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/model"
)

const (
	ArchiveBatchSize    = 50
	ArchiveBatchTimeout = 2 * time.Second
	ArchivePollTimeout  = 1 * time.Second
)

// ResultSink is where archived results end up.
type ResultSink interface {
	InsertBatch(ctx context.Context, batch []model.ArchivedResult) error
	Insert(ctx context.Context, a model.ArchivedResult) error
}

// ResultArchiveWorker copies finalized results from the Redis queue into PostgreSQL.
type ResultArchiveWorker struct {
	sink ResultSink
	rdb  *redis.Client
	log  zerolog.Logger
	done chan struct{}
}

func NewResultArchiveWorker(sink ResultSink, rdb *redis.Client, log zerolog.Logger) *ResultArchiveWorker {
	return &ResultArchiveWorker{
		sink: sink,
		rdb:  rdb,
		log:  log.With().Str("component", "result_archive_worker").Logger(),
		done: make(chan struct{}),
	}
}

// Done is closed once Start has returned.
func (w *ResultArchiveWorker) Done() <-chan struct{} {
	return w.done
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultArchiveWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Msg("ResultArchiveWorker started")

	batch := make([]model.ArchivedResult, 0, ArchiveBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ArchiveBatchSize || time.Since(lastFlush) >= ArchiveBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ArchivePollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(ArchivePollTimeout)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var job model.ArchivedResult
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, job)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-row fallback
// ----------------------------------------------------------------

func (w *ResultArchiveWorker) flushSafe(ctx context.Context, batch []model.ArchivedResult) {
	if len(batch) == 0 {
		return
	}

	err := w.sink.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Results archived")
		return
	}
	w.log.Warn().Err(err).Msg("bulk archive failed, using fallback")

	for _, job := range batch {
		if err := w.sink.Insert(ctx, job); err != nil {
			w.log.Error().
				Err(err).
				Int("user_id", job.UserID).
				Str("exam_id", job.Result.ExamID).
				Msg("archive insert failed, requeueing")
			raw, _ := json.Marshal(job)
			w.rdb.RPush(context.Background(), config.WorkerKey.PersistResultsQueue, raw)
		}
	}
}
