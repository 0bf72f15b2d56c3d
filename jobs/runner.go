/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/metrics"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

// errFinished stops the retry loop for jobs that reached a terminal state
// before this delivery.
var errFinished = stderrors.New("export job already finished")

// Result is what a successful attempt produced.
type Result struct {
	Records int
	Path    string
	Size    int64
	NoData  bool
}

// Job is the body the runner retries, plus its lifecycle callbacks.
type Job interface {
	// Start reports false when the job must not run, e.g. it already
	// reached a terminal state.
	Start(ctx context.Context, m Message) (bool, error)
	Attempt(ctx context.Context, m Message) (Result, error)
	OnSuccess(ctx context.Context, m Message, r Result) error
	OnFailure(ctx context.Context, m Message, cause error) error
}

// Runner executes a Job with bounded retries. Each attempt gets its own
// timeout; the job body must honour ctx to be interrupted.
type Runner struct {
	Job     Job
	Tries   int
	Timeout time.Duration
	Backoff time.Duration
	Log     *zap.SugaredLogger
}

func NewRunner(job Job, cfg config.QueueConfig, log *zap.SugaredLogger) *Runner {
	return &Runner{
		Job:     job,
		Tries:   cfg.Tries,
		Timeout: cfg.Timeout,
		Backoff: cfg.Backoff,
		Log:     log,
	}
}

// linearBackOff waits step, then 2*step, then 3*step between tries.
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// permanentUnlessRetryable keeps the retry loop going only for errors a
// second try could fix.
func permanentUnlessRetryable(err error) error {
	if errors.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// Handle runs m to a terminal state. The returned error is the cause of a
// terminal failure, already recorded on the job. A failed Start uses up a
// try like a failed attempt.
func (r *Runner) Handle(ctx context.Context, m Message) error {
	log := r.Log.With("job_uuid", m.JobUUID.String(), "entity", m.Entity, "file_name", m.FileName)

	tries := r.Tries
	if tries < 1 {
		tries = 1
	}

	var (
		started bool
		attempt int
		lastErr error
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if !started {
			run, err := r.start(ctx, m)
			if err != nil {
				log.Warnw("failed to start export job", "error", err)
				lastErr = fmt.Errorf("failed to start job: %w", err)
				return struct{}{}, permanentUnlessRetryable(lastErr)
			}
			if !run {
				return struct{}{}, backoff.Permanent(errFinished)
			}
			started = true
		}

		attempt++
		metrics.ObserveAttempt()
		lastErr = r.attempt(ctx, m)
		if lastErr == nil {
			return struct{}{}, nil
		}
		log.Warnw("export job attempt failed",
			"attempt", attempt,
			"tries", tries,
			"error", lastErr,
			"filters", m.Filters.Raw(),
		)
		return struct{}{}, permanentUnlessRetryable(lastErr)
	},
		backoff.WithBackOff(&linearBackOff{step: r.Backoff}),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	)

	switch {
	case stderrors.Is(err, errFinished):
		log.Infow("skipping export job that already finished")
		return nil
	case err == nil:
		metrics.ObserveJob(string(models.Completed))
		log.Infow("export job completed", "attempt", attempt)
		return nil
	}

	// a cancelled ctx surfaces as its cause; the job failed on lastErr
	if lastErr == nil {
		lastErr = err
	}
	r.fail(ctx, log, m, lastErr)
	return lastErr
}

// start runs Start with the same panic protection as an attempt.
func (r *Runner) start(ctx context.Context, m Message) (run bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			run, err = false, fmt.Errorf("export job start panicked: %v\n%s", p, debug.Stack())
		}
	}()
	return r.Job.Start(ctx, m)
}

// attempt runs the body and its success callback under the attempt timeout.
// A panic is turned into an error.
func (r *Runner) attempt(ctx context.Context, m Message) (err error) {
	actx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("export job panicked: %v\n%s", p, debug.Stack())
		}
	}()

	res, err := r.Job.Attempt(actx, m)
	if err != nil {
		if actx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("attempt timed out after %s: %w", r.Timeout, err)
		}
		return err
	}
	return r.Job.OnSuccess(actx, m, res)
}

// fail records the terminal failure. Errors and panics raised while doing
// so are logged and swallowed.
func (r *Runner) fail(ctx context.Context, log *zap.SugaredLogger, m Message, cause error) {
	metrics.ObserveJob(string(models.Failed))
	defer func() {
		if p := recover(); p != nil {
			log.Errorw("panic while handling export job failure", "panic", p, "cause", cause)
		}
	}()
	// the failure must be recorded even when ctx ended the job
	if err := r.Job.OnFailure(context.WithoutCancel(ctx), m, cause); err != nil {
		log.Errorw("failed to record export job failure", "error", err, "cause", cause)
	}
}
