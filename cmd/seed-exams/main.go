package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/database"
	"github.com/stemsi/examhub/internal/logger"
	"github.com/stemsi/examhub/internal/repository"
	"github.com/stemsi/examhub/internal/service"
)

func main() {
	var (
		file   string
		dryRun bool
	)
	flag.StringVar(&file, "file", "", "Catalog JSON file (default: built-in sample catalog)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the catalog without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	var src io.Reader = bytes.NewReader(builtinCatalog)
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to open catalog")
		}
		defer f.Close()
		src = f
	}

	exams, err := loadCatalog(src)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid catalog")
	}
	if dryRun {
		for _, def := range exams {
			log.Info().Str("exam_id", def.ID).Int("questions", def.QuestionCount()).Msg("Exam OK")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examService := service.NewExamService(repository.NewExamRepository(pool), rdb, log)

	for _, def := range exams {
		if err := examService.Upsert(ctx, def); err != nil {
			log.Fatal().Err(err).Str("exam_id", def.ID).Msg("Failed to seed exam")
		}
	}
	log.Info().Int("count", len(exams)).Msg("Seeding complete")
}
