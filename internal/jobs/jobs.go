// Package jobs provides delayed background job execution and periodic sweeps.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job types known to the runner.
const (
	TypeAutoResolve = "auto_resolve"
	TypeDigestEmail = "digest_email"
)

// Job is a unit of deferred work.
type Job struct {
	Type string
	Args map[string]string
}

// Handler executes one job.
type Handler func(ctx context.Context, job Job) error

// Queue schedules a job to run after delay. Implementations must tolerate
// duplicate enqueues of the same logical job; handlers are expected to be
// idempotent.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, delay time.Duration, args map[string]string)
}

// Runner is an in-process Queue backed by timers. Jobs do not survive a
// restart; every handler re-checks state before acting so a lost timer only
// delays work until the next sweep.
type Runner struct {
	log *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	timers   map[*time.Timer]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

func NewRunner(log *slog.Logger) *Runner {
	return &Runner{
		log:      log.With(slog.String("service", "jobs")),
		handlers: make(map[string]Handler),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Register binds a handler to a job type. Later registrations replace
// earlier ones.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Runner) Enqueue(_ context.Context, jobType string, delay time.Duration, args map[string]string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		delete(r.timers, timer)
		stopped := r.stopped
		h := r.handlers[jobType]
		r.mu.Unlock()
		if stopped {
			return
		}
		if h == nil {
			r.log.Warn("no handler for job", slog.String("type", jobType))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h(ctx, Job{Type: jobType, Args: args}); err != nil {
			r.log.Error("job failed", slog.String("type", jobType), slog.Any("error", err))
		}
	})
	r.timers[timer] = struct{}{}
	r.mu.Unlock()
	r.log.Debug("job scheduled", slog.String("type", jobType), slog.Duration("delay", delay))
}

// Stop cancels pending timers and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for timer := range r.timers {
		if timer.Stop() {
			r.wg.Done()
		}
		delete(r.timers, timer)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
