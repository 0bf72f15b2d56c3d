/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package notify

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
)

type Event string

const (
	EventSuccess     Event = "success"
	EventNoData      Event = "no_data"
	EventError       Event = "error"
	EventQueued      Event = "queued"
	EventJobComplete Event = "job_complete"
	EventJobFailed   Event = "job_failed"
)

// Notification is a user visible outcome of an export.
type Notification struct {
	Event    Event          `json:"event"`
	Owner    entities.Owner `json:"owner"`
	Entity   string         `json:"entity"`
	FileName string         `json:"file_name,omitempty"`
	JobUUID  string         `json:"job_uuid,omitempty"`
	Records  int            `json:"records,omitempty"`
	URL      string         `json:"url,omitempty"`
	Error    string         `json:"error,omitempty"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
}

// Level groups events for display.
func (n Notification) Level() string {
	switch n.Event {
	case EventSuccess, EventJobComplete:
		return "success"
	case EventNoData:
		return "warning"
	case EventError, EventJobFailed:
		return "error"
	default:
		return "info"
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

func Success(owner entities.Owner, entity, fileName string, records int) Notification {
	return Notification{Event: EventSuccess, Owner: owner, Entity: entity, FileName: fileName, Records: records}
}

func NoData(owner entities.Owner, entity string) Notification {
	return Notification{Event: EventNoData, Owner: owner, Entity: entity}
}

func Error(owner entities.Owner, entity, fileName string, err error) Notification {
	return Notification{Event: EventError, Owner: owner, Entity: entity, FileName: fileName, Error: err.Error()}
}

func Queued(owner entities.Owner, entity, fileName, jobUUID string) Notification {
	return Notification{Event: EventQueued, Owner: owner, Entity: entity, FileName: fileName, JobUUID: jobUUID}
}

func JobComplete(owner entities.Owner, entity, fileName, jobUUID string, records int, url string) Notification {
	return Notification{Event: EventJobComplete, Owner: owner, Entity: entity, FileName: fileName, JobUUID: jobUUID, Records: records, URL: url}
}

func JobFailed(owner entities.Owner, entity, fileName, jobUUID, reason string) Notification {
	return Notification{Event: EventJobFailed, Owner: owner, Entity: entity, FileName: fileName, JobUUID: jobUUID, Error: reason}
}

// Composer fills in titles and bodies. Record counts are printed with the
// grouping of the configured language.
type Composer struct {
	tag language.Tag
}

func NewComposer(lang string) Composer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return Composer{tag: tag}
}

func (c Composer) Compose(n Notification) Notification {
	p := message.NewPrinter(c.tag)
	var title, body string
	switch n.Event {
	case EventSuccess:
		title = "Export Complete"
		body = p.Sprintf("%d records exported successfully.", n.Records)
	case EventNoData:
		title = "No records found"
		body = "There is no data to export with the applied filters."
	case EventError:
		title = "Export Failed"
		body = fmt.Sprintf("An error occurred during processing: %s", n.Error)
	case EventQueued:
		title = "Export Queued"
		body = "Your export is being processed in the background. You will be notified when it is ready."
	case EventJobComplete:
		title = "Export Complete"
		body = p.Sprintf("Your export with %d records is ready. File: %s", n.Records, n.FileName)
	case EventJobFailed:
		title = "Export Failed"
		body = fmt.Sprintf("The export %s failed to process. Please try again.", n.FileName)
	}
	if n.Title == "" {
		n.Title = title
	}
	if n.Body == "" {
		n.Body = body
	}
	return n
}

// Filtered drops events disabled in the configuration and composes the
// text of the rest before handing them on.
type Filtered struct {
	Next     Notifier
	Toggles  config.NotificationsConfig
	Composer Composer
}

func NewFiltered(next Notifier, toggles config.NotificationsConfig, messages config.Messages) *Filtered {
	return &Filtered{Next: next, Toggles: toggles, Composer: NewComposer(messages.Language)}
}

// Enabled reports whether event is delivered.
func (f *Filtered) Enabled(event Event) bool {
	switch event {
	case EventSuccess:
		return f.Toggles.ShowSuccess
	case EventNoData:
		return f.Toggles.ShowNoData
	case EventError:
		return f.Toggles.ShowErrors
	case EventQueued:
		return f.Toggles.ShowQueued
	case EventJobComplete:
		return f.Toggles.ShowJobComplete
	case EventJobFailed:
		return f.Toggles.ShowJobFailed
	default:
		return false
	}
}

func (f *Filtered) Notify(ctx context.Context, n Notification) error {
	if !f.Enabled(n.Event) {
		return nil
	}
	return f.Next.Notify(ctx, f.Composer.Compose(n))
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, next := range m {
		if err := next.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Log writes notifications to the service log only.
type Log struct {
	Log *zap.SugaredLogger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	l.Log.Infow("export notification",
		"event", n.Event,
		"user", n.Owner.UserID,
		"org_id", n.Owner.OrgID,
		"entity", n.Entity,
		"file_name", n.FileName,
		"job_uuid", n.JobUUID,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}
