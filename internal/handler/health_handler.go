package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveCounter reports attempts held in memory. *service.ExamSessionService satisfies it.
type LiveCounter interface {
	Live() int
}

// HealthHandler reports liveness plus a few runtime and queue figures.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	sessions  LiveCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when Postgres is not wired.
func NewHealthHandler(db Pinger, rdb *redis.Client, sessions LiveCounter, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status       string            `json:"status"`
	Uptime       string            `json:"uptime"`
	Checks       map[string]string `json:"checks"`
	LiveAttempts int               `json:"live_attempts"`
	ArchiveQueue int64             `json:"archive_queue"`
	Goroutines   int               `json:"goroutines"`
	HeapAlloc    uint64            `json:"heap_alloc"`
	GoVersion    string            `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when Redis and Postgres answer, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Checks:       map[string]string{},
		LiveAttempts: h.sessions.Live(),
		Goroutines:   runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc

	queue, err := h.rdb.LLen(ctx, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		report.Checks["redis"] = err.Error()
	} else {
		report.Checks["redis"] = "ok"
		report.ArchiveQueue = queue
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			report.Checks["postgres"] = err.Error()
		} else {
			report.Checks["postgres"] = "ok"
		}
	}

	status := http.StatusOK
	for name, result := range report.Checks {
		if result != "ok" {
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.log.Warn().Str("check", name).Str("error", result).Msg("Health check failed")
		}
	}
	response.Success(c, status, report)
}
