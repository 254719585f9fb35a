package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/laytan/pind/internal/pipeline"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotReady    = errors.New("job is not finished")
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Record is the persisted state of a job.
type Record struct {
	ID             string           `json:"job_id"`
	URL            string           `json:"url"`
	UserID         *int64           `json:"user_id,omitempty"`
	Status         Status           `json:"status"`
	Step           string           `json:"current_step,omitempty"`
	Progress       int              `json:"progress"`
	Result         *pipeline.Output `json:"result,omitempty"`
	ProcessingTime float64          `json:"processing_time,omitempty"`
	Error          string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Update is what subscribers of a job receive.
type Update struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Step     string `json:"current_step,omitempty"`
	Progress int    `json:"progress"`
	Error    string `json:"error_message,omitempty"`
}

func (r *Record) update() Update {
	return Update{
		JobID:    r.ID,
		Status:   r.Status,
		Step:     r.Step,
		Progress: r.Progress,
		Error:    r.Error,
	}
}

type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}
