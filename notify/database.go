package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redhatinsights/spreadsheet-export-service/models"
)

// NotificationStore is the part of the repository the database notifier
// writes to.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Database stores notifications for the owner to read through the API.
type Database struct {
	Store NotificationStore
}

type notificationData struct {
	Entity   string `json:"entity"`
	FileName string `json:"file_name,omitempty"`
	JobUUID  string `json:"job_uuid,omitempty"`
	Records  int    `json:"records,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (d Database) Notify(ctx context.Context, n Notification) error {
	if n.Owner.UserID == "" {
		// nobody to deliver to
		return nil
	}
	data, err := json.Marshal(notificationData{
		Entity:   n.Entity,
		FileName: n.FileName,
		JobUUID:  n.JobUUID,
		Records:  n.Records,
		URL:      n.URL,
		Error:    n.Error,
	})
	if err != nil {
		return err
	}
	row := &models.Notification{
		OwnerUserID: n.Owner.UserID,
		OrgID:       n.Owner.OrgID,
		Level:       models.NotificationLevel(n.Level()),
		Event:       string(n.Event),
		Title:       n.Title,
		Body:        n.Body,
		Data:        data,
	}
	if err := d.Store.CreateNotification(ctx, row); err != nil {
		return fmt.Errorf("failed to store %s notification: %w", n.Event, err)
	}
	return nil
}
