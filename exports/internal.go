/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package exports

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/middleware"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

// Sweeper fails jobs that stopped making progress.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Internal serves operator routes on the private port.
type Internal struct {
	DB      models.DBInterface
	Janitor Sweeper
	Log     *zap.SugaredLogger
}

// InternalRouter is a router for all of the internal routes. Callers are
// authenticated with a pre-shared key.
func (i *Internal) InternalRouter(r chi.Router) {
	r.With(middleware.URLParamsCtx).Get("/exports/{exportUUID}", i.GetJob)
	r.Post("/janitor/sweep", i.PostSweep)
}

// GetJob returns the full job row, including the storage location and the
// request snapshot.
func (i *Internal) GetJob(w http.ResponseWriter, r *http.Request) {
	params := middleware.GetURLParams(r.Context())
	if params == nil {
		errors.InternalServerError(w, "unable to parse url params")
		return
	}
	job, err := i.DB.Get(r.Context(), params.ExportUUID)
	if stderrors.Is(err, models.ErrRecordNotFound) {
		errors.NotFoundError(w, fmt.Sprintf("export job '%s' not found", params.ExportUUID))
		return
	}
	if err != nil {
		i.Log.Errorw("error querying export job", "job_uuid", params.ExportUUID.String(), "error", err)
		errors.InternalServerError(w, err)
		return
	}

	request := json.RawMessage(job.Request)
	if len(request) == 0 {
		request = json.RawMessage("null")
	}
	out := struct {
		*models.ExportJob
		StoragePath *string         `json:"storage_path"`
		Request     json.RawMessage `json:"request"`
	}{ExportJob: job, StoragePath: job.StoragePath, Request: request}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		i.Log.Errorw("error while encoding", "error", err)
	}
}

// PostSweep runs the stuck job janitor once.
func (i *Internal) PostSweep(w http.ResponseWriter, r *http.Request) {
	if i.Janitor == nil {
		errors.NotImplementedError(w)
		return
	}
	n, err := i.Janitor.Sweep(r.Context())
	if err != nil {
		i.Log.Errorw("janitor sweep failed", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int64{"failed": n}); err != nil {
		i.Log.Errorw("error while encoding", "error", err)
	}
}
