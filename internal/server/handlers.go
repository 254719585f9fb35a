package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/laytan/pind/internal/jobs"
	"github.com/laytan/pind/internal/pipeline"
	"github.com/laytan/pind/internal/store"
	"github.com/laytan/pind/internal/tube"
)

type ProcessRequest struct {
	URL    string `json:"url" validate:"required,url"`
	UserID *int64 `json:"user_id,omitempty" validate:"omitempty,gt=0"`
}

type JobCreated struct {
	JobID  string        `json:"job_id"`
	Status string        `json:"status"`
	Mode   pipeline.Mode `json:"mode"`
}

type JobStatus struct {
	JobID       string      `json:"job_id"`
	Status      jobs.Status `json:"status"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"current_step"`
}

type JobResult struct {
	JobID          string           `json:"job_id"`
	Status         jobs.Status      `json:"status"`
	Title          string           `json:"title,omitempty"`
	Places         []pipeline.Place `json:"places,omitempty"`
	ProcessingTime float64          `json:"processing_time,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
}

type HistoryItem struct {
	VideoID      string           `json:"video_id"`
	Title        string           `json:"title"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	YoutubeURL   string           `json:"youtube_url"`
	Places       []pipeline.Place `json:"places"`
	CreatedAt    time.Time        `json:"created_at"`
}

type History struct {
	UserID  int64         `json:"user_id"`
	History []HistoryItem `json:"history"`
}

// parseRequest reports a 400 to the client itself, a nil request means the handler is done.
func (s *Server) parseRequest(c *fiber.Ctx) (*ProcessRequest, error) {
	req := new(ProcessRequest)
	if err := c.BodyParser(req); err != nil {
		return nil, respondError(c, http.StatusBadRequest, "cannot parse request body")
	}

	req.URL = strings.TrimSpace(req.URL)
	if err := s.validate.Struct(req); err != nil {
		return nil, c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "invalid request",
			"errors":  formatValidationErrors(err),
		})
	}

	if _, ok := tube.ExtractVideoID(req.URL); !ok {
		return nil, respondError(c, http.StatusBadRequest, "not a YouTube video url")
	}

	return req, nil
}

func (s *Server) submitJob(c *fiber.Ctx) error {
	req, err := s.parseRequest(c)
	if req == nil {
		return err
	}

	ctx := c.UserContext()
	out, ok, err := s.Extractor.Cached(ctx, req.URL, req.UserID)
	if err != nil {
		return err
	}
	if ok {
		return respond(c, http.StatusOK, out)
	}

	id, err := s.Jobs.Submit(ctx, req.URL, req.UserID)
	if err != nil {
		return err
	}

	return respond(c, http.StatusAccepted, JobCreated{JobID: id, Status: "queued", Mode: pipeline.ModeNewProcessing})
}

func (s *Server) jobStatus(c *fiber.Ctx) error {
	rec, err := s.Jobs.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	res := JobStatus{
		JobID:       rec.ID,
		Status:      rec.Status,
		Progress:    rec.Progress,
		CurrentStep: rec.Step,
	}
	if res.CurrentStep == "" {
		res.CurrentStep = "N/A"
	}
	return respond(c, http.StatusOK, res)
}

func (s *Server) jobResult(c *fiber.Ctx) error {
	rec, err := s.Jobs.Result(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobs.ErrNotReady) {
		return respondError(c, http.StatusAccepted, "job is not yet completed, check its status first")
	}
	if err != nil {
		return err
	}

	res := JobResult{
		JobID:          rec.ID,
		Status:         rec.Status,
		ProcessingTime: rec.ProcessingTime,
		ErrorMessage:   rec.Error,
	}
	if rec.Status == jobs.StatusSuccess && rec.Result != nil {
		res.Title = rec.Result.Title
		res.Places = rec.Result.Places
		if res.Places == nil {
			res.Places = []pipeline.Place{}
		}
	}
	return respond(c, http.StatusOK, res)
}

func (s *Server) process(c *fiber.Ctx) error {
	req, err := s.parseRequest(c)
	if req == nil {
		return err
	}

	out, err := s.Extractor.Process(c.UserContext(), req.URL, req.UserID, nil)
	if err != nil {
		requestLog(c, s.Log).WithError(err).WithField("url", req.URL).Error("processing failed")
		return err
	}

	return respond(c, http.StatusOK, out)
}

func (s *Server) userHistory(c *fiber.Ctx) error {
	userId, err := c.ParamsInt("id")
	if err != nil || userId <= 0 {
		return respondError(c, http.StatusBadRequest, "invalid user id")
	}

	entries, err := s.History.HistoryFor(c.UserContext(), int64(userId))
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, History{UserID: int64(userId), History: HistoryItems(entries)})
}

func HistoryItems(entries []store.HistoryEntry) []HistoryItem {
	items := make([]HistoryItem, len(entries))
	for i, e := range entries {
		places := make([]pipeline.Place, len(e.Places))
		for j, p := range e.Places {
			places[j] = pipeline.Place{Name: p.Name, Lat: p.Lat, Lng: p.Lng}
		}

		items[i] = HistoryItem{
			VideoID:      e.Content.ContentID,
			Title:        e.Content.Title.String,
			ThumbnailURL: e.Content.ThumbnailUrl.String,
			YoutubeURL:   e.Content.YoutubeUrl.String,
			Places:       places,
			CreatedAt:    e.CreatedAt,
		}
	}
	return items
}

func (s *Server) health(c *fiber.Ctx) error {
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := s.DB.PingContext(ctx); err != nil {
			requestLog(c, s.Log).WithError(err).Error("health check failed")
			return respondError(c, http.StatusServiceUnavailable, "database unreachable")
		}
	}

	return respond(c, http.StatusOK, fiber.Map{"status": "ok"})
}
