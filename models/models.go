/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	Pending    JobStatus = "pending"
	Processing JobStatus = "processing"
	Completed  JobStatus = "completed"
	Failed     JobStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s == Completed || s == Failed
}

// URLParams represent the `exportUUID` and `entity` found in the url. These
// are added to the request context using the URLParams middleware.
type URLParams struct {
	ExportUUID uuid.UUID
	Entity     string
}

// User is the identity an export job and its notifications belong to.
type User struct {
	AccountID      string `json:"-"`
	OrganizationID string `json:"-"`
	Username       string `json:"-"`
}

// ExportJob tracks a background export from enqueue to completion. Only the
// job runner mutates a row after it is created.
type ExportJob struct {
	ID               uint           `gorm:"primarykey" json:"-"`
	UUID             uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"id"`
	EntityType       string         `json:"entity_type"`
	FileName         string         `json:"file_name"`
	Status           JobStatus      `gorm:"type:string;default:pending" json:"status"`
	TotalRecords     *int           `json:"total_records"`
	ProcessedRecords int            `gorm:"default:0" json:"processed_records"`
	StorageDisk      string         `json:"storage_disk"`
	StoragePath      *string        `json:"-"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	OwnerUserID      string         `json:"-"`
	OrgID            string         `json:"-"`
	Request          datatypes.JSON `gorm:"type:jsonb" json:"-"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExportJob) TableName() string {
	return "export_jobs"
}

func (j *ExportJob) BeforeCreate(tx *gorm.DB) error {
	if j.UUID == uuid.Nil {
		j.UUID = uuid.New()
	}
	if j.Status == "" {
		j.Status = Pending
	}
	return nil
}

// SetRequest stores the snapshot needed to rebuild the export in a worker.
func (j *ExportJob) SetRequest(v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Request = out
	return nil
}

func (j *ExportJob) GetRequest(v any) error {
	return json.Unmarshal(j.Request, v)
}

func (j *ExportJob) Owner() User {
	return User{OrganizationID: j.OrgID, Username: j.OwnerUserID}
}

type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a user visible message written by the database notifier.
type Notification struct {
	ID          uint              `gorm:"primarykey" json:"-"`
	UUID        uuid.UUID         `gorm:"type:uuid;uniqueIndex" json:"id"`
	OwnerUserID string            `json:"-"`
	OrgID       string            `json:"-"`
	Level       NotificationLevel `gorm:"type:string" json:"level"`
	Event       string            `json:"event"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        datatypes.JSON    `gorm:"type:jsonb" json:"data,omitempty"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.UUID == uuid.Nil {
		n.UUID = uuid.New()
	}
	return nil
}
