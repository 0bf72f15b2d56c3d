/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

// startWorker consumes export jobs until interrupted. The janitor runs on
// its schedule next to the consumers.
func startWorker(cfg *config.ExportConfig, log *zap.SugaredLogger) error {
	log.Infow("starting export worker",
		"queue", cfg.Queue.Connection,
		"workers", cfg.Queue.Workers,
		"tries", cfg.Queue.Tries,
		"timeout", cfg.Queue.Timeout,
		"backoff", cfg.Queue.Backoff,
	)
	if !cfg.Queue.Enabled {
		return fmt.Errorf("the export queue is disabled, nothing to consume")
	}

	svc, err := buildServices(cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.Close(log)
	if svc.Source == nil {
		return fmt.Errorf("queue connection %q cannot be consumed", cfg.Queue.Connection)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msrv := createMetricsServer(cfg)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.worker(cfg, log).Run(gctx)
	})
	g.Go(func() error {
		return svc.janitor(cfg, log).Schedule(gctx, cfg.JanitorSchedule)
	})
	g.Go(func() error {
		log.Infof("metrics server started on %s", msrv.Addr)
		if err := msrv.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return msrv.Shutdown(context.Background())
	})

	err = g.Wait()
	log.Info("export worker stopped")
	return err
}
