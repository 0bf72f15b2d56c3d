/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

// StuckJobStore fails jobs that have been processing for too long.
type StuckJobStore interface {
	FailStuck(ctx context.Context, startedBefore time.Time, message string) (int64, error)
}

// Janitor fails jobs whose worker died mid-run. A job is stuck once it has
// been processing longer than every attempt plus backoff could take.
type Janitor struct {
	Store  StuckJobStore
	MaxAge time.Duration
	Log    *zap.SugaredLogger

	now func() time.Time
}

func NewJanitor(store StuckJobStore, cfg config.QueueConfig, log *zap.SugaredLogger) *Janitor {
	tries := cfg.Tries
	if tries < 1 {
		tries = 1
	}
	return &Janitor{
		Store:  store,
		MaxAge: time.Duration(tries) * (cfg.Timeout + cfg.Backoff*time.Duration(tries)),
		Log:    log,
	}
}

// Sweep runs one pass and returns the number of jobs it failed.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().Add(-j.MaxAge)
	n, err := j.Store.FailStuck(ctx, cutoff, fmt.Sprintf("export job did not finish within %s", j.MaxAge))
	if err != nil {
		j.Log.Errorw("failed to sweep stuck export jobs", "error", err)
		return 0, err
	}
	if n > 0 {
		j.Log.Warnw("failed stuck export jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Schedule runs Sweep on spec until ctx is done.
func (j *Janitor) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		_, _ = j.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	c.Start()
	j.Log.Infow("janitor scheduled", "schedule", spec, "max_age", j.MaxAge)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
