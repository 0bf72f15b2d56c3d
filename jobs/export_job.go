/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/metrics"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/notify"
	"github.com/redhatinsights/spreadsheet-export-service/render"
	"github.com/redhatinsights/spreadsheet-export-service/s3"
	"github.com/redhatinsights/spreadsheet-export-service/stream"
)

// ExportJob regenerates an export in the background and records the
// outcome on its job row.
type ExportJob struct {
	Pipeline  *Pipeline
	DB        models.DBInterface
	Disk      s3.Disk
	Notifier  notify.Notifier
	Directory string
	Log       *zap.SugaredLogger
}

// key is unique per job; file names only have second resolution.
func (j *ExportJob) key(m Message) string {
	return path.Join(j.Directory, m.JobUUID.String(), m.FileName)
}

func (j *ExportJob) Start(ctx context.Context, m Message) (bool, error) {
	job, err := j.DB.Get(ctx, m.JobUUID)
	if stderrors.Is(err, models.ErrRecordNotFound) {
		return false, errors.NonRetryable(fmt.Errorf("export job %s does not exist", m.JobUUID))
	}
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}
	return true, j.DB.MarkProcessing(ctx, m.JobUUID)
}

func (j *ExportJob) Attempt(ctx context.Context, m Message) (Result, error) {
	prep, err := j.Pipeline.Prepare(m)
	if err != nil {
		return Result{}, err
	}

	count, err := j.Pipeline.Count(ctx, prep)
	if stderrors.Is(err, errors.ErrNoData) {
		return Result{NoData: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	total := stream.Capped(count, j.Pipeline.Limits.MaxRecords)
	if err := j.DB.StartAttempt(ctx, m.JobUUID, total); err != nil {
		return Result{}, fmt.Errorf("failed to reset job progress: %w", err)
	}

	wb, err := j.Pipeline.Render(ctx, prep, func(n int) error {
		return j.DB.IncrementProcessed(ctx, m.JobUUID, n)
	})
	if err != nil {
		return Result{}, err
	}
	defer wb.Close()

	key := j.key(m)
	size, err := upload(ctx, j.Disk, key, wb)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store %s: %w", key, err)
	}
	return Result{Records: wb.Records(), Path: key, Size: size}, nil
}

// upload pipes the workbook into the disk without buffering the whole file.
func upload(ctx context.Context, disk s3.Disk, key string, wb *render.Workbook) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := wb.WriteTo(pw)
		pw.CloseWithError(err)
	}()
	size, err := disk.Put(ctx, key, pr, render.ContentType)
	// unblocks the writer when Put stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	return size, err
}

func (j *ExportJob) OnSuccess(ctx context.Context, m Message, r Result) error {
	log := j.Log.With("job_uuid", m.JobUUID.String(), "entity", m.Entity)
	if r.NoData {
		if err := j.DB.MarkCompleted(ctx, m.JobUUID, models.Completion{}); err != nil {
			return err
		}
		metrics.ObserveExport(m.Entity, metrics.PathNoData)
		j.notify(ctx, log, notify.NoData(m.Owner, m.Entity))
		return nil
	}

	err := j.DB.MarkCompleted(ctx, m.JobUUID, models.Completion{
		TotalRecords: r.Records,
		Disk:         j.Disk.Name(),
		Path:         r.Path,
	})
	if err != nil {
		return err
	}
	log.Infow("export file stored", "path", r.Path, "size", r.Size, "records", r.Records)

	url, err := j.Disk.URL(ctx, r.Path)
	if err != nil {
		log.Errorw("failed to build download url", "error", err)
	}
	j.notify(ctx, log, notify.JobComplete(m.Owner, m.Entity, m.FileName, m.JobUUID.String(), r.Records, url))
	return nil
}

func (j *ExportJob) OnFailure(ctx context.Context, m Message, cause error) error {
	log := j.Log.With("job_uuid", m.JobUUID.String(), "entity", m.Entity)
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	metrics.ObserveExport(m.Entity, metrics.PathError)
	err := j.DB.MarkFailed(ctx, m.JobUUID, reason)
	j.notify(ctx, log, notify.JobFailed(m.Owner, m.Entity, m.FileName, m.JobUUID.String(), reason))
	return err
}

// notify never fails the job; notification errors are only logged.
func (j *ExportJob) notify(ctx context.Context, log *zap.SugaredLogger, n notify.Notification) {
	if j.Notifier == nil {
		return
	}
	if err := j.Notifier.Notify(ctx, n); err != nil {
		log.Errorw("failed to send export notification", "event", n.Event, "error", err)
	}
}
