/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const receiveErrorPause = time.Second

// Handler processes one message to a terminal state.
type Handler interface {
	Handle(ctx context.Context, m Message) error
}

// Worker pulls messages from a Source with a fixed number of goroutines.
// Jobs are started no faster than the limiter allows.
type Worker struct {
	Source      Source
	Handler     Handler
	Concurrency int
	Limiter     *rate.Limiter
	Log         *zap.SugaredLogger
}

// NewWorker builds a worker. A rate of zero or less disables throttling.
func NewWorker(src Source, h Handler, concurrency int, perSecond float64, log *zap.SugaredLogger) *Worker {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		Source:      src,
		Handler:     h,
		Concurrency: concurrency,
		Limiter:     rate.NewLimiter(limit, concurrency),
		Log:         log,
	}
}

// Run blocks until ctx is cancelled. Failed jobs never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id)
		})
	}
	err := g.Wait()
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	log := w.Log.With("worker", id)
	log.Infow("export worker started")
	for {
		if err := w.Limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		m, err := w.Source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infow("export worker stopped")
				return ctx.Err()
			}
			log.Errorw("failed to receive export job", "error", err)
			select {
			case <-time.After(receiveErrorPause):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := w.Handler.Handle(ctx, m); err != nil {
			log.Errorw("export job failed", "job_uuid", m.JobUUID.String(), "entity", m.Entity, "error", err)
		}
	}
}
