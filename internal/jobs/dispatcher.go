package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Task is a unit of work executed by one of the dispatcher's workers.
type Task interface {
	Execute(ctx context.Context) error
	ID() string
}

// Dispatcher runs submitted tasks on a fixed number of workers, the queue in front of them is bounded.
type Dispatcher struct {
	MaxWorkers int
	Queue      chan Task
	Log        logrus.FieldLogger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(maxWorkers, queueSize int, log logrus.FieldLogger) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		MaxWorkers: maxWorkers,
		Queue:      make(chan Task, queueSize),
		Log:        log,
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the workers.
func (d *Dispatcher) Run() {
	d.Log.WithField("workers", d.MaxWorkers).Info("dispatcher starting")
	for i := 1; i <= d.MaxWorkers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	log := d.Log.WithField("worker", id)

	for {
		select {
		case <-d.quit:
			log.Debug("worker stopping")
			return
		case task := <-d.Queue:
			tlog := log.WithField("job_id", task.ID())
			tlog.Debug("started job")
			if err := task.Execute(d.ctx); err != nil {
				tlog.WithError(err).Warn("job failed")
			} else {
				tlog.Debug("finished job")
			}
		}
	}
}

// Submit queues the task without blocking, ErrQueueFull is returned when there is no room.
func (d *Dispatcher) Submit(task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	select {
	case d.Queue <- task:
		return nil
	default:
		d.Log.WithField("job_id", task.ID()).Warn("job queue full")
		return ErrQueueFull
	}
}

// Stop lets running tasks finish until ctx is done, after which they are cancelled.
// Tasks still in the queue are not started, they are returned to the caller.
func (d *Dispatcher) Stop(ctx context.Context) []Task {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.quit)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.Log.Warn("cancelling running jobs")
		d.cancel()
		<-done
	}
	d.cancel()

	var left []Task
drain:
	for {
		select {
		case task := <-d.Queue:
			left = append(left, task)
		default:
			break drain
		}
	}

	if len(left) > 0 {
		d.Log.WithField("dropped", len(left)).Warn("jobs left in queue")
	}
	d.Log.Info("dispatcher stopped")
	return left
}
