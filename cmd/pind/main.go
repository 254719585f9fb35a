package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/laytan/pind/internal/audio"
	"github.com/laytan/pind/internal/config"
	"github.com/laytan/pind/internal/jobs"
	"github.com/laytan/pind/internal/llm"
	"github.com/laytan/pind/internal/pipeline"
	"github.com/laytan/pind/internal/server"
	"github.com/laytan/pind/internal/store"
	"github.com/laytan/pind/internal/transcript"
	"github.com/laytan/pind/internal/tube"
	"github.com/laytan/pind/internal/verify"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 2 && os.Args[1] == "history" {
		userId, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("invalid user id %q", os.Args[2])
		}

		db := openStore(ctx, cfg, log)
		defer db.Close()

		entries, err := store.NewStore(db, log).HistoryFor(ctx, userId)
		if err != nil {
			log.WithError(err).Fatal("retrieving history")
		}
		printJSON(log, server.HistoryItems(entries))
		return
	}

	if err := cfg.RequireServing(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db := openStore(ctx, cfg, log)
	defer db.Close()

	st := store.NewStore(db, log)
	orchestrator, err := newOrchestrator(cfg, log, st)
	if err != nil {
		log.WithError(err).Fatal("setting up pipeline")
	}

	if len(os.Args) > 2 && os.Args[1] == "process" {
		var userId *int64
		if len(os.Args) > 3 {
			id, err := strconv.ParseInt(os.Args[3], 10, 64)
			if err != nil {
				log.Fatalf("invalid user id %q", os.Args[3])
			}
			userId = &id
		}

		out, err := orchestrator.Process(ctx, os.Args[2], userId, func(e pipeline.Event) {
			log.WithFields(logrus.Fields{"state": e.State.String(), "percent": e.Percent}).Info("progress")
		})
		if err != nil {
			log.WithError(err).Fatal("processing video")
		}
		printJSON(log, out)
		return
	}

	serve(ctx, cfg, log, db, st, orchestrator)
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger, db *sql.DB, st *store.Store, orchestrator *pipeline.Orchestrator) {
	var jobStore jobs.Store = jobs.NewMemoryStore(cfg.JobTTL)
	if cfg.RedisURL != "" {
		rs, err := jobs.NewRedisStore(ctx, cfg.RedisURL, cfg.JobTTL)
		if err != nil {
			log.WithError(err).Fatal("connecting to redis")
		}
		defer rs.Close()
		jobStore = rs
	}

	dispatcher := jobs.NewDispatcher(cfg.JobWorkers, cfg.JobQueueSize, log.WithField("component", "dispatcher"))
	dispatcher.Run()
	tracker := jobs.NewTracker(orchestrator, jobStore, dispatcher, log.WithField("component", "jobs"))

	srv := server.New(orchestrator, tracker, st, db, log.WithField("component", "http"))

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Listen(cfg.Port)
	}()

	select {
	case err := <-errs:
		log.WithError(err).Error("server stopped")
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutting down server")
	}
	tracker.Close(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) *sql.DB {
	if cfg.PostgresDsn == "" {
		log.WithError(&config.MissingError{Keys: []string{"POSTGRES_DSN"}}).Fatal("invalid configuration")
	}

	db, err := store.Open(ctx, cfg.PostgresDsn)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}

	if err := store.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrating database")
	}
	return db
}

func newOrchestrator(cfg *config.Config, log *logrus.Logger, st *store.Store) (*pipeline.Orchestrator, error) {
	yt := tube.NewClient(cfg.YtKey, log.WithField("component", "tube"))

	resolver := &transcript.Resolver{
		Captions:      yt,
		Metadata:      yt,
		Downloader:    &tube.Downloader{BinYtDlp: cfg.BinYtDlp, Log: log.WithField("component", "yt-dlp")},
		Splitter:      &audio.Splitter{BinFfmpeg: cfg.BinFfmpeg, BinFfprobe: cfg.BinFfprobe, Log: log.WithField("component", "audio")},
		Languages:     cfg.CaptionLanguages,
		ChunkLimit:    cfg.ChunkLimitBytes,
		ChunkDuration: cfg.ChunkDuration,
		TmpDir:        cfg.TmpDir,
		Log:           log.WithField("component", "transcript"),
	}
	if cfg.STTAPIKey != "" {
		resolver.STT = transcript.NewWhisper(cfg.STTAPIKey, cfg.STTModel, cfg.STTTimeout)
	} else {
		log.Warn("OPENAI_API_KEY not set, videos without captions will have no transcript")
	}

	completer := llm.NewClient(cfg.LLMAPIKey, cfg.LLMAPIBase, cfg.LLMModel, cfg.LLMTimeout, log.WithField("component", "llm"))

	mapsClient, err := verify.NewMaps(verify.MapsOptions{
		APIKey:   cfg.MapsAPIKey,
		Language: cfg.MapsLanguage,
		QPS:      cfg.MapsQPS,
		Timeout:  cfg.MapsTimeout,
	}, log.WithField("component", "maps"))
	if err != nil {
		return nil, err
	}

	return &pipeline.Orchestrator{
		Transcripts: resolver,
		Candidates:  &llm.Extractor{LLM: completer, Log: log.WithField("component", "extract")},
		Regions:     &llm.RegionResolver{LLM: completer, Log: log.WithField("component", "region")},
		Verifier: &verify.Verifier{
			Search:      mapsClient,
			Radius:      cfg.VerifyRadius,
			ThresholdKm: cfg.VerifyThresholdKm,
			Concurrency: 5,
			Log:         log.WithField("component", "verify"),
		},
		Store: st,
		Log:   log.WithField("component", "pipeline"),
	}, nil
}

func printJSON(log *logrus.Logger, v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil && !errors.Is(err, os.ErrClosed) {
		log.WithError(err).Error("writing output")
	}
}
