package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 4
	sendTimeout      = 30 * time.Second
)

// Dispatcher runs notification sends off the request path. Enqueue never
// blocks: when the queue is full the job is dropped and logged, because a
// delivery failure must never fail the surrounding authentication flow.
type Dispatcher struct {
	queue chan job
	wg    sync.WaitGroup
	once  sync.Once
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

func (d *Dispatcher) Enqueue(name string, run func(ctx context.Context) error) {
	select {
	case d.queue <- job{name: name, run: run}:
	default:
		slog.Warn("Notification queue full, dropping job", "job", name)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := j.run(ctx); err != nil {
			slog.Error("Notification delivery failed", "job", j.name, "error", err)
		}
		cancel()
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	d := &Dispatcher{
		queue: make(chan job, defaultQueueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}
