package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laytan/pind/internal/pipeline"
	"github.com/laytan/pind/internal/tube"
	"github.com/sirupsen/logrus"
)

var (
	ErrPanic    = errors.New("job panicked")
	ErrShutdown = errors.New("shut down before the job started")
)

type Processor interface {
	Process(ctx context.Context, url string, userId *int64, progress pipeline.ProgressFunc) (*pipeline.Output, error)
}

// Tracker runs extractions in the background and keeps their status queryable.
type Tracker struct {
	Processor  Processor
	Store      Store
	Dispatcher *Dispatcher
	Log        logrus.FieldLogger

	mu    sync.Mutex
	feeds map[string]*feed
}

func NewTracker(p Processor, store Store, d *Dispatcher, log logrus.FieldLogger) *Tracker {
	return &Tracker{
		Processor:  p,
		Store:      store,
		Dispatcher: d,
		Log:        log,
		feeds:      map[string]*feed{},
	}
}

type job struct {
	id      string
	url     string
	userId  *int64
	tracker *Tracker
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Execute(ctx context.Context) (err error) {
	t := j.tracker
	log := t.Log.WithField("job_id", j.id)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("job panicked: %v", r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			t.finish(ctx, j.id, nil, err, time.Since(start))
		}
	}()

	t.apply(ctx, j.id, func(rec *Record) {
		rec.Status = StatusProgress
		rec.Step = pipeline.Queued.String()
	})

	out, err := t.Processor.Process(ctx, j.url, j.userId, func(e pipeline.Event) {
		if e.State.Terminal() {
			return
		}

		t.apply(ctx, j.id, func(rec *Record) {
			rec.Status = StatusProgress
			rec.Step = e.State.String()
			rec.Progress = max(rec.Progress, e.Percent)
		})
	})
	t.finish(ctx, j.id, out, err, time.Since(start))
	return err
}

// Submit validates the url and queues the extraction, returning the new job's id.
func (t *Tracker) Submit(ctx context.Context, url string, userId *int64) (string, error) {
	if _, ok := tube.ExtractVideoID(url); !ok {
		return "", fmt.Errorf("%q: %w", url, tube.ErrInvalidURL)
	}

	now := time.Now()
	rec := Record{
		ID:        uuid.NewString(),
		URL:       url,
		UserID:    userId,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := t.Store.Put(ctx, &rec); err != nil {
		return "", fmt.Errorf("storing job: %w", err)
	}

	t.mu.Lock()
	t.feeds[rec.ID] = newFeed(rec)
	t.mu.Unlock()

	if err := t.Dispatcher.Submit(&job{id: rec.ID, url: url, userId: userId, tracker: t}); err != nil {
		t.mu.Lock()
		delete(t.feeds, rec.ID)
		t.mu.Unlock()

		if derr := t.Store.Delete(ctx, rec.ID); derr != nil {
			t.Log.WithError(derr).WithField("job_id", rec.ID).Warn("could not delete rejected job")
		}
		return "", err
	}

	t.Log.WithFields(logrus.Fields{"job_id": rec.ID, "url": url}).Info("job queued")
	return rec.ID, nil
}

func (t *Tracker) feed(id string) *feed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feeds[id]
}

func (t *Tracker) apply(ctx context.Context, id string, mutate func(*Record)) {
	f := t.feed(id)
	if f == nil {
		return
	}

	rec := f.apply(func(rec *Record) {
		mutate(rec)
		rec.UpdatedAt = time.Now()
	})
	t.persist(ctx, &rec)
}

func (t *Tracker) finish(ctx context.Context, id string, out *pipeline.Output, err error, took time.Duration) {
	f := t.feed(id)
	if f == nil {
		return
	}

	rec := f.finish(func(rec *Record) {
		rec.UpdatedAt = time.Now()
		rec.ProcessingTime = took.Seconds()
		if err != nil {
			rec.Status = StatusFailure
			rec.Error = err.Error()
			return
		}

		rec.Status = StatusSuccess
		rec.Step = pipeline.Completed.String()
		rec.Progress = 100
		rec.Result = out
	})

	// Stored before the feed goes away so Status never observes a gap.
	t.persist(context.WithoutCancel(ctx), &rec)

	t.mu.Lock()
	delete(t.feeds, id)
	t.mu.Unlock()

	t.Log.WithFields(logrus.Fields{
		"job_id": id,
		"status": rec.Status,
		"took":   took,
	}).Info("job finished")
}

func (t *Tracker) persist(ctx context.Context, rec *Record) {
	if err := t.Store.Put(ctx, rec); err != nil {
		t.Log.WithError(err).WithField("job_id", rec.ID).Error("could not store job state")
	}
}

// Status returns the current state of the job.
func (t *Tracker) Status(ctx context.Context, id string) (*Record, error) {
	if f := t.feed(id); f != nil {
		rec := f.snapshot()
		return &rec, nil
	}

	return t.Store.Get(ctx, id)
}

// Result returns the finished job, ErrNotReady while it is still pending or running.
func (t *Tracker) Result(ctx context.Context, id string) (*Record, error) {
	rec, err := t.Status(ctx, id)
	if err != nil {
		return nil, err
	}

	if !rec.Status.Terminal() {
		return nil, ErrNotReady
	}
	return rec, nil
}

// Subscribe streams the job's updates, the channel is closed after the terminal update or on cancel.
// Jobs not running in this process yield their stored state once.
func (t *Tracker) Subscribe(ctx context.Context, id string) (<-chan Update, func(), error) {
	if f := t.feed(id); f != nil {
		ch, cancel := f.subscribe()
		return ch, cancel, nil
	}

	rec, err := t.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Update, 1)
	ch <- rec.update()
	close(ch)
	return ch, func() {}, nil
}

// Close stops accepting jobs and waits for running ones until ctx is done.
// Jobs that never started are marked failed with ErrShutdown.
func (t *Tracker) Close(ctx context.Context) {
	for _, task := range t.Dispatcher.Stop(ctx) {
		if j, ok := task.(*job); ok {
			t.finish(ctx, j.id, nil, ErrShutdown, 0)
		}
	}
}
