package server

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/laytan/pind/internal/jobs"
	"github.com/laytan/pind/internal/pipeline"
	"github.com/laytan/pind/internal/store"
	"github.com/sirupsen/logrus"
)

type Extractor interface {
	Process(ctx context.Context, url string, userId *int64, progress pipeline.ProgressFunc) (*pipeline.Output, error)
	Cached(ctx context.Context, url string, userId *int64) (*pipeline.Output, bool, error)
}

type JobTracker interface {
	Submit(ctx context.Context, url string, userId *int64) (string, error)
	Status(ctx context.Context, id string) (*jobs.Record, error)
	Result(ctx context.Context, id string) (*jobs.Record, error)
	Subscribe(ctx context.Context, id string) (<-chan jobs.Update, func(), error)
}

type HistoryStore interface {
	HistoryFor(ctx context.Context, userId int64) ([]store.HistoryEntry, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	App       *fiber.App
	Extractor Extractor
	Jobs      JobTracker
	History   HistoryStore
	DB        Pinger
	Log       logrus.FieldLogger

	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration

	validate *validator.Validate
}

func New(extractor Extractor, tracker JobTracker, history HistoryStore, db Pinger, log logrus.FieldLogger) *Server {
	s := &Server{
		Extractor: extractor,
		Jobs:      tracker,
		History:   history,
		DB:        db,
		Log:       log,
		Heartbeat: 15 * time.Second,
		validate:  validator.New(),
	}

	s.App = fiber.New(fiber.Config{
		AppName:               "pind",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.App.Use(recover.New())
	s.App.Use(requestLogger(log))

	s.App.Get("/health", s.health)

	v1 := s.App.Group("/api/v1")

	v1.Post("/jobs", s.submitJob)
	v1.Get("/jobs/:id/status", s.jobStatus)
	v1.Get("/jobs/:id/result", s.jobResult)
	v1.Get("/jobs/:id/events", s.jobEvents)

	v1.Post("/youtube/process", s.process)

	v1.Get("/users/:id/history", s.userHistory)

	return s
}

func (s *Server) Listen(addr string) error {
	s.Log.WithField("addr", addr).Info("listening")
	return s.App.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}
