/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package exports

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/columns"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/middleware"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/render"
	"github.com/redhatinsights/spreadsheet-export-service/s3"
)

// Handler serves the public export API.
type Handler struct {
	Service  Service
	Registry *entities.Registry
	Resolver *columns.Resolver
	DB       models.DBInterface
	Disk     s3.Disk
	Log      *zap.SugaredLogger

	validate *validator.Validate
}

func NewHandler(svc Service, registry *entities.Registry, resolver *columns.Resolver, db models.DBInterface, disk s3.Disk, log *zap.SugaredLogger) *Handler {
	return &Handler{
		Service:  svc,
		Registry: registry,
		Resolver: resolver,
		DB:       db,
		Disk:     disk,
		Log:      log,
		validate: validator.New(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/entities", func(sub chi.Router) {
		sub.With(middleware.JSONContentType).Get("/", h.ListEntities)
		sub.With(middleware.URLParamsCtx).Post("/{entity}/exports", h.PostExport)
	})
	r.Route("/exports", func(sub chi.Router) {
		sub.With(middleware.JSONContentType, middleware.PaginationCtx).Get("/", h.ListExports)
		sub.Route("/{exportUUID}", func(job chi.Router) {
			job.Use(middleware.URLParamsCtx)
			job.With(middleware.JSONContentType).Get("/", h.GetExport)
			job.Get("/download", h.DownloadExport)
		})
	})
	r.With(middleware.JSONContentType, middleware.PaginationCtx).Get("/notifications", h.ListNotifications)
}

func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	out := []APIEntity{}
	for _, d := range h.Registry.All() {
		defaults, err := h.Resolver.Resolve(d, nil)
		if err != nil {
			h.Log.Errorw("failed to resolve default columns", "entity", d.Name, "error", err)
			errors.InternalServerError(w, err)
			return
		}
		out = append(out, APIEntity{
			Name:           d.Name,
			Kind:           d.Kind.String(),
			Columns:        h.Resolver.Catalogue(d),
			DefaultColumns: defaults,
		})
	}
	h.encode(w, http.StatusOK, out)
}

func (h *Handler) PostExport(w http.ResponseWriter, r *http.Request) {
	params := middleware.GetURLParams(r.Context())
	if params == nil {
		errors.InternalServerError(w, "unable to parse url params")
		return
	}
	reqID := request_id.GetReqID(r.Context())

	var body ExportRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !stderrors.Is(err, io.EOF) {
			errors.BadRequestError(w, fmt.Sprintf("invalid request body: %s", err))
			return
		}
	}
	if err := h.validate.Struct(body); err != nil {
		errors.BadRequestError(w, describeValidation(err))
		return
	}

	res, err := h.Service.Export(r.Context(), body.Request(params.Entity, middleware.GetOwner(r.Context()), reqID))
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	switch res.Mode {
	case NoData:
		h.encode(w, http.StatusOK, APIMessage{Message: "no records matched the export filters", Warnings: res.Warnings})
	case Asynchronous:
		h.encode(w, http.StatusAccepted, APIQueued{
			Message:  "the export is being generated in the background",
			Job:      apiJob(res.Job),
			Warnings: res.Warnings,
		})
	default:
		w.Header().Set("Content-Type", render.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Content)))
		w.Header().Set("X-Export-Records", strconv.Itoa(res.Records))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Content); err != nil {
			h.Log.Errorw("failed to write export file", "file_name", res.FileName, "error", err)
		}
	}
}

func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserIdentity(r.Context())
	page := middleware.GetPagination(r.Context())

	list, count, err := h.DB.APIList(r.Context(), user, page.Limit, page.Offset)
	if err != nil {
		h.Log.Errorw("error querying export jobs", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	if list == nil {
		list = []*models.APIExportJob{}
	}
	resp, err := middleware.GetPaginatedResponse(r.URL, page, list, int(count))
	if err != nil {
		h.Log.Errorw("error while paginating data", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	h.encode(w, http.StatusOK, resp)
}

func (h *Handler) job(w http.ResponseWriter, r *http.Request) (*models.ExportJob, bool) {
	params := middleware.GetURLParams(r.Context())
	if params == nil {
		errors.InternalServerError(w, "unable to parse url params")
		return nil, false
	}
	user := middleware.GetUserIdentity(r.Context())
	job, err := h.DB.GetWithUser(r.Context(), params.ExportUUID, user)
	if stderrors.Is(err, models.ErrRecordNotFound) {
		errors.NotFoundError(w, fmt.Sprintf("export job '%s' not found", params.ExportUUID))
		return nil, false
	}
	if err != nil {
		h.Log.Errorw("error querying export job", "job_uuid", params.ExportUUID.String(), "error", err)
		errors.InternalServerError(w, err)
		return nil, false
	}
	return job, true
}

func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	status := APIExportStatus{APIExportJob: apiJob(job), ErrorMessage: job.ErrorMessage}
	if job.Status == models.Completed && job.StoragePath != nil && h.Disk != nil {
		url, err := h.Disk.URL(r.Context(), *job.StoragePath)
		if err != nil {
			h.Log.Errorw("failed to build download url", "job_uuid", job.UUID.String(), "error", err)
		}
		status.DownloadURL = url
	}
	h.encode(w, http.StatusOK, status)
}

func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	if job.Status != models.Completed {
		errors.ConflictError(w, fmt.Sprintf("export job '%s' is %s", job.UUID, job.Status))
		return
	}
	if job.StoragePath == nil || h.Disk == nil {
		errors.NotFoundError(w, fmt.Sprintf("export job '%s' has no file", job.UUID))
		return
	}
	log := h.Log.With("job_uuid", job.UUID.String(), "path", *job.StoragePath)

	if h.Disk.Name() == "s3" {
		url, err := h.Disk.URL(r.Context(), *job.StoragePath)
		if err != nil {
			log.Errorw("failed to build download url", "error", err)
			errors.InternalServerError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	body, err := h.Disk.Open(r.Context(), *job.StoragePath)
	if err != nil {
		log.Errorw("failed to open export file", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", render.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Errorw("failed to stream export file", "error", err)
	}
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserIdentity(r.Context())
	page := middleware.GetPagination(r.Context())

	notifications, count, err := h.DB.ListNotifications(r.Context(), user, page.Limit, page.Offset)
	if err != nil {
		h.Log.Errorw("error querying notifications", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	resp, err := middleware.GetPaginatedResponse(r.URL, page, notifications, int(count))
	if err != nil {
		h.Log.Errorw("error while paginating data", "error", err)
		errors.InternalServerError(w, err)
		return
	}
	h.encode(w, http.StatusOK, resp)
}

func (h *Handler) encode(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Errorw("error while encoding", "error", err)
	}
}
