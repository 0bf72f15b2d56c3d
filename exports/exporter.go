/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package exports

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
	"github.com/redhatinsights/spreadsheet-export-service/metrics"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/notify"
)

type Mode int

const (
	Synchronous Mode = iota
	Asynchronous
	NoData
)

func (m Mode) String() string {
	switch m {
	case Asynchronous:
		return "asynchronous"
	case NoData:
		return "no_data"
	default:
		return "synchronous"
	}
}

// Route decides how an export with count matching records is executed.
// A count equal to the threshold still runs inline.
func Route(count int, queueEnabled bool, threshold int) Mode {
	switch {
	case count <= 0:
		return NoData
	case !queueEnabled || count <= threshold:
		return Synchronous
	default:
		return Asynchronous
	}
}

// ExportRequest is a user request before normalization. A nil Columns
// means the entity defaults apply.
type ExportRequest struct {
	Entity        string
	Filters       map[string]any
	Columns       []entities.ColumnSpec
	SortField     string
	SortDirection string
	Owner         entities.Owner
	RequestID     string
}

type Result struct {
	Mode     Mode
	FileName string
	// Content is the rendered file of a synchronous export.
	Content []byte
	Records int
	// Job is the persisted job of an asynchronous export.
	Job      *models.ExportJob
	Warnings []string
}

// Service is what the HTTP handlers need from the exporter.
type Service interface {
	Export(ctx context.Context, req ExportRequest) (*Result, error)
}

type Exporter struct {
	Pipeline   *jobs.Pipeline
	Normalizer *filters.Normalizer
	DB         models.DBInterface
	Queue      jobs.Queue
	Notifier   notify.Notifier
	Limits     config.LimitsConfig
	QueueCfg   config.QueueConfig
	File       config.FileConfig
	Log        *zap.SugaredLogger
	// Now stamps file names; nil means time.Now.
	Now func() time.Time
}

func (e *Exporter) clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Export normalizes req, counts the matching records and either renders the
// file inline or hands it to the queue.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*Result, error) {
	set := e.Normalizer.Normalize(req.Filters)
	log := e.Log.With("entity", req.Entity, "request_id", req.RequestID, "filters", set.Names())

	msg := jobs.Message{
		Entity:        req.Entity,
		Filters:       set,
		Columns:       req.Columns,
		SortField:     req.SortField,
		SortDirection: req.SortDirection,
		Owner:         req.Owner,
		RequestID:     req.RequestID,
		FileName:      FileName(e.File, req.Entity, len(req.Columns) > 0, e.clock()),
	}

	prep, err := e.Pipeline.Prepare(msg)
	if err != nil {
		log.Infow("rejected export request", "error", err)
		return nil, err
	}
	msg.Entity = prep.Entity.Name
	msg.Template = prep.Template
	msg.Relations = append([]string(nil), prep.Plan.Preloads...)

	count, err := e.Pipeline.Count(ctx, prep)
	if err != nil && !stderrors.Is(err, errors.ErrNoData) {
		return nil, e.failed(ctx, log, msg, err)
	}
	all := prep.AllWarnings()
	warnings := make([]string, 0, len(all))
	for _, w := range all {
		log.Warnw("ignored export option", "warning", w.String())
		warnings = append(warnings, w.String())
	}

	switch Route(count, e.QueueCfg.Enabled && e.Queue != nil, e.Limits.QueueThreshold) {
	case NoData:
		metrics.ObserveExport(msg.Entity, metrics.PathNoData)
		e.notify(ctx, log, notify.NoData(req.Owner, msg.Entity))
		return &Result{Mode: NoData, Warnings: warnings}, nil
	case Asynchronous:
		job, err := e.enqueue(ctx, log, msg)
		if err != nil {
			return nil, e.failed(ctx, log, msg, err)
		}
		metrics.ObserveExport(msg.Entity, metrics.PathAsync)
		e.notify(ctx, log, notify.Queued(req.Owner, msg.Entity, msg.FileName, job.UUID.String()))
		return &Result{Mode: Asynchronous, FileName: msg.FileName, Job: job, Warnings: warnings}, nil
	}

	content, records, err := e.render(ctx, prep)
	if err != nil {
		return nil, e.failed(ctx, log, msg, err)
	}
	metrics.ObserveExport(msg.Entity, metrics.PathSync)
	log.Infow("rendered export", "file_name", msg.FileName, "records", records, "matched", count)
	e.notify(ctx, log, notify.Success(req.Owner, msg.Entity, msg.FileName, records))
	return &Result{
		Mode:     Synchronous,
		FileName: msg.FileName,
		Content:  content,
		Records:  records,
		Warnings: warnings,
	}, nil
}

func (e *Exporter) render(ctx context.Context, prep *jobs.Prepared) ([]byte, int, error) {
	wb, err := e.Pipeline.Render(ctx, prep, nil)
	if err != nil {
		return nil, 0, err
	}
	defer wb.Close()

	var buf bytes.Buffer
	if _, err := wb.WriteTo(&buf); err != nil {
		return nil, 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), wb.Records(), nil
}

func (e *Exporter) enqueue(ctx context.Context, log *zap.SugaredLogger, msg jobs.Message) (*models.ExportJob, error) {
	job := &models.ExportJob{
		EntityType:  msg.Entity,
		FileName:    msg.FileName,
		Status:      models.Pending,
		OwnerUserID: msg.Owner.UserID,
		OrgID:       msg.Owner.OrgID,
	}
	if err := job.SetRequest(msg); err != nil {
		return nil, fmt.Errorf("failed to snapshot export request: %w", err)
	}
	if err := e.DB.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create export job: %w", err)
	}

	msg.JobUUID = job.UUID
	if err := e.Queue.Enqueue(ctx, msg); err != nil {
		reason := fmt.Sprintf("failed to enqueue export job: %s", err)
		if merr := e.DB.MarkFailed(context.WithoutCancel(ctx), job.UUID, reason); merr != nil {
			log.Errorw("failed to mark export job failed", "job_uuid", job.UUID.String(), "error", merr)
		}
		return nil, fmt.Errorf("failed to enqueue export job: %w", err)
	}
	log.Infow("queued export job", "job_uuid", job.UUID.String(), "file_name", msg.FileName)
	return job, nil
}

// failed reports an execution error and hands it back to the caller.
func (e *Exporter) failed(ctx context.Context, log *zap.SugaredLogger, msg jobs.Message, err error) error {
	log.Errorw("export failed", "file_name", msg.FileName, "error", err)
	metrics.ObserveExport(msg.Entity, metrics.PathError)
	e.notify(ctx, log, notify.Error(msg.Owner, msg.Entity, msg.FileName, err))
	return err
}

func (e *Exporter) notify(ctx context.Context, log *zap.SugaredLogger, n notify.Notification) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		log.Errorw("failed to send export notification", "event", n.Event, "error", err)
	}
}

// FileName builds the download name of an export, e.g.
// "export_jobs_advanced_2024-01-31_10-00-00.xlsx".
func FileName(cfg config.FileConfig, entity string, selectedColumns bool, now time.Time) string {
	kind := "simple"
	if selectedColumns {
		kind = "advanced"
	}
	format := cfg.NameFormat
	if format == "" {
		format = "{resource}_{type}_{datetime}"
	}
	layout := cfg.DatetimeFormat
	if layout == "" {
		layout = "2006-01-02_15-04-05"
	}
	ext := strings.TrimPrefix(cfg.Extension, ".")
	if ext == "" {
		ext = "xlsx"
	}

	name := strings.NewReplacer(
		"{resource}", strings.ToLower(entity),
		"{type}", kind,
		"{datetime}", now.Format(layout),
	).Replace(format)
	return name + "." + ext
}
