// Package jobs runs long background work (PDF extraction) outside the
// request that started it. Progress and outcome are written to the job
// record, which clients poll.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/retry"
	"github.com/pavelanni/mathwhiz/internal/store"
)

var (
	// ErrCancelled is the cancellation cause when a client cancels a job.
	ErrCancelled = errors.New("job cancelled")
	// ErrShutdown is the cancellation cause when the runner is stopped.
	ErrShutdown = errors.New("server shutting down")
)

// Store is the part of the store the runner needs.
type Store interface {
	GetJob(id string) (*model.Job, error)
	TransitionJob(id string, from, to model.JobStatus, upd store.JobUpdate) error
	UpdateJobProgress(id, progress string) error
}

// Work is the body of a job. It reports progress through progress and
// returns a JSON-marshalable result. It must return soon after ctx is done.
type Work func(ctx context.Context, job *model.Job, progress func(string)) (any, error)

// Config tunes a Runner. Zero values get defaults.
type Config struct {
	Timeout      time.Duration // wall clock per job; default 10m
	PollInterval time.Duration // how often a job re-reads its record; default 5s
	Logger       *slog.Logger
}

// Runner executes jobs in background goroutines.
type Runner struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	base   context.Context
	stop   context.CancelCauseFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner writing job state to st.
func NewRunner(st Store, cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Runner{
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "jobs"),
		base:   base,
		stop:   stop,
	}
}

// Start runs work for job in the background. job must be pending; if it was
// cancelled before it could start, work is never called.
func (r *Runner) Start(job *model.Job, work Work) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job, work)
	}()
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels all running jobs, which end in the error state, and waits
// for their bodies to return.
func (r *Runner) Stop() {
	r.stop(ErrShutdown)
	r.Wait()
}

func (r *Runner) run(job *model.Job, work Work) {
	log := r.logger.With("job_id", job.ID, "kind", job.Kind)

	if err := r.transition(job.ID, model.JobPending, model.JobProcessing, store.JobUpdate{}); err != nil {
		log.Warn("job not started", "error", err)
		return
	}
	log.Info("job started")
	started := time.Now()

	ctx, cancel := context.WithCancelCause(r.base)
	deadline := fmt.Errorf("%w: %s job did not finish within %s", retry.ErrTimeout, job.Kind, r.cfg.Timeout)
	ctx, stopTimer := context.WithTimeoutCause(ctx, r.cfg.Timeout, deadline)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		r.watch(ctx, job.ID, cancel)
	}()

	progress := func(msg string) {
		if err := r.store.UpdateJobProgress(job.ID, msg); err != nil {
			log.Warn("progress update failed", "error", err)
		}
	}

	result, err := runWork(ctx, job, work, progress)
	cause := context.Cause(ctx)
	stopTimer()
	cancel(nil)
	<-watched

	if errors.Is(cause, ErrCancelled) {
		log.Info("job cancelled", "duration", time.Since(started))
		return
	}
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(cause, ErrShutdown):
			msg = ErrShutdown.Error()
		case errors.Is(cause, retry.ErrTimeout):
			msg = cause.Error()
		}
		log.Error("job failed", "error", retry.Summarize(err), "duration", time.Since(started))
		r.finish(log, job.ID, model.JobError, store.JobUpdate{Error: msg})
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		r.finish(log, job.ID, model.JobError, store.JobUpdate{Error: fmt.Sprintf("encode result: %v", err)})
		return
	}
	log.Info("job completed", "duration", time.Since(started))
	r.finish(log, job.ID, model.JobCompleted, store.JobUpdate{Result: data})
}

// runWork calls work on the runner's goroutine, so Wait covers the body
// until it returns. A panic becomes an error.
func runWork(ctx context.Context, job *model.Job, work Work, progress func(string)) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return work(ctx, job, progress)
}

// finish writes a terminal status. A job that reached a terminal status in
// the meantime (a cancellation) keeps it.
func (r *Runner) finish(log *slog.Logger, id string, to model.JobStatus, upd store.JobUpdate) {
	err := r.transition(id, model.JobProcessing, to, upd)
	if errors.Is(err, store.ErrConflict) {
		log.Warn("job outcome discarded: status changed while running", "outcome", to)
		return
	}
	if err != nil {
		log.Error("could not record job outcome", "outcome", to, "error", err)
	}
}

func (r *Runner) transition(id string, from, to model.JobStatus, upd store.JobUpdate) error {
	cfg := retry.Config{Retryable: storeRetryable, Logger: r.logger}
	name := fmt.Sprintf("job %s %s->%s", id, from, to)
	// A lost race is an expected outcome, not a failed write.
	var conflict error
	err := retry.Do(context.Background(), cfg, name, func(context.Context) error {
		err := r.store.TransitionJob(id, from, to, upd)
		if errors.Is(err, store.ErrConflict) {
			conflict = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return conflict
}

// watch re-reads the job record every PollInterval and cancels the work
// once a client has cancelled the job.
func (r *Runner) watch(ctx context.Context, id string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		j, err := r.store.GetJob(id)
		if err != nil {
			r.logger.Warn("job poll failed", "job_id", id, "error", err)
			continue
		}
		if j.Status == model.JobCancelled {
			cancel(ErrCancelled)
			return
		}
		if j.Status.IsTerminal() {
			return
		}
	}
}

// storeRetryable adds SQLite lock contention to the transient errors.
func storeRetryable(err error) bool {
	if retry.IsRetryable(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
