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
	"time"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"
	redoc "github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redhatinsights/platform-go-middlewares/identity"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/exports"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
	"github.com/redhatinsights/spreadsheet-export-service/metrics"
	emiddleware "github.com/redhatinsights/spreadsheet-export-service/middleware"
)

func createPublicServer(cfg *config.ExportConfig, log *zap.SugaredLogger, external *exports.Handler) *http.Server {
	// Initialize router
	router := chi.NewRouter()

	// setup middleware
	router.Use(
		request_id.RequestID,
		logger.SetResponseLogger(log),
		setupDocsMiddleware,
		metrics.PrometheusMiddleware,
		middleware.Recoverer,
	)

	router.Get("/", statusOK)
	router.Get("/api/export/v1/openapi.json", serveOpenAPISpec(cfg)) // OpenAPI Spec

	router.Route("/api/export/v1", func(r chi.Router) {
		// add authentication middleware
		r.Use(
			emiddleware.InjectDebugUserIdentity(cfg.Debug, log),
			identity.EnforceIdentity,        // EnforceIdentity extracts the X-Rh-Identity header and places the contents into the request context.
			emiddleware.EnforceUserIdentity, // EnforceUserIdentity extracts org_id and username from the X-Rh-Identity context.
		)

		r.With(emiddleware.JSONContentType).Get("/ping", helloWorld)
		external.Routes(r)
	})

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.PublicPort),
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		// synchronous exports render inside the request
		WriteTimeout: 2 * time.Minute,
	}
}

func createPrivateServer(cfg *config.ExportConfig, log *zap.SugaredLogger, internal *exports.Internal) *http.Server {
	// Initialize router
	router := chi.NewRouter()

	// setup middleware
	router.Use(
		request_id.RequestID,
		emiddleware.JSONContentType, // Set content-Type headers as application/json
		logger.SetResponseLogger(log),
		metrics.PrometheusMiddleware,
		middleware.Recoverer,
	)

	router.Get("/", statusOK)

	router.Route("/app/export/v1", func(r chi.Router) {
		r.Use(emiddleware.EnforcePSK(cfg.Psks))
		r.Get("/ping", helloWorld)
		r.Route("/", internal.InternalRouter)
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.PrivatePort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func createMetricsServer(cfg *config.ExportConfig) *http.Server {
	// Router for metrics
	mr := chi.NewRouter()
	mr.Get("/", statusOK)
	mr.Get("/readyz", statusOK)  // for readiness probe
	mr.Get("/healthz", statusOK) // for liveness probe
	mr.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mr,
	}
}

func setupDocsMiddleware(handler http.Handler) http.Handler {
	opt := redoc.RedocOpts{
		Path:    "/api/export/v1/docs",
		SpecURL: "/api/export/v1/openapi.json",
	}
	return redoc.Redoc(opt, handler)
}

// Handler function that responds with Hello World
func helloWorld(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "Hello world")
}

// statusOK returns a simple 200 status code
func statusOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}

// Serve OpenAPI spec json
func serveOpenAPISpec(cfg *config.ExportConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, cfg.OpenAPIFilePath)
	}
}

func startApiServer(cfg *config.ExportConfig, log *zap.SugaredLogger) {
	log.Infow("configuration values",
		"hostname", cfg.Hostname,
		"publicport", cfg.PublicPort,
		"metricsport", cfg.MetricsPort,
		"privateport", cfg.PrivatePort,
		"loglevel", cfg.LogLevel,
		"debug", cfg.Debug,
		"openapifilepath", cfg.OpenAPIFilePath,
		"queue", cfg.Queue.Connection,
		"queue_enabled", cfg.Queue.Enabled,
		"disk", cfg.File.Disk,
		"notifications", cfg.Notifications.Channel,
	)

	svc, err := buildServices(cfg, log, false)
	if err != nil {
		log.Panicw("failed to build services", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the sync connection has no separate worker deployment
	workerDone := make(chan struct{})
	if svc.Source != nil {
		go func() {
			defer close(workerDone)
			if err := svc.worker(cfg, log).Run(ctx); err != nil {
				log.Errorw("in-process worker stopped", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	external := exports.NewHandler(svc.exporter(cfg, log), svc.Registry, svc.Resolver, svc.ExportDB, svc.Disk, log)
	internal := &exports.Internal{DB: svc.ExportDB, Janitor: svc.janitor(cfg, log), Log: log}

	wsrv := createPublicServer(cfg, log, external)
	psrv := createPrivateServer(cfg, log, internal)
	msrv := createMetricsServer(cfg)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := wsrv.Shutdown(context.Background()); err != nil {
			log.Errorw("http server shutdown failed", "error", err)
		}
		log.Info("public server shutdown")
		if err := psrv.Shutdown(context.Background()); err != nil {
			log.Errorw("http server shutdown failed", "error", err)
		}
		log.Info("private server shutdown")
		if err := msrv.Shutdown(context.Background()); err != nil {
			log.Errorw("http server shutdown failed", "error", err)
		}
		log.Info("metrics server shutdown")
		close(idleConnsClosed)
	}()

	go func() {
		if err := msrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()
	log.Infof("metrics server started on %s", msrv.Addr)

	go func() {
		if err := wsrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Panicw("public server stopped unexpectedly", "error", err)
		}
	}()
	log.Infof("public server started on %s", wsrv.Addr)

	go func() {
		if err := psrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Panicw("private server stopped unexpectedly", "error", err)
		}
	}()
	log.Infof("private server started on %s", psrv.Addr)

	<-idleConnsClosed
	<-workerDone

	svc.Close(log)

	log.Info("syncing logger")
	if err := log.Sync(); err != nil {
		log.Errorw("failed to sync logger", "error", err)
	} else {
		log.Info("synced logger")
	}

	log.Info("everything has shut down, goodbye")
}
