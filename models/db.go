package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIExportJob represents select fields of the ExportJob which are returned to the user
type APIExportJob struct {
	UUID             uuid.UUID  `gorm:"column:uuid" json:"id"`
	EntityType       string     `json:"entity_type"`
	FileName         string     `json:"file_name"`
	Status           string     `json:"status"`
	TotalRecords     *int       `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	CreatedAt        time.Time  `json:"created"`
	CompletedAt      *time.Time `json:"completed,omitempty"`
}

// Completion is what a successful job run records on its row.
type Completion struct {
	TotalRecords int
	Disk         string
	Path         string
}

type ExportDB struct {
	DB *gorm.DB
}

type DBInterface interface {
	APIList(ctx context.Context, user User, limit, offset int) (result []*APIExportJob, total int64, err error)

	Create(ctx context.Context, job *ExportJob) error
	Get(ctx context.Context, jobUUID uuid.UUID) (*ExportJob, error)
	GetWithUser(ctx context.Context, jobUUID uuid.UUID, user User) (*ExportJob, error)

	MarkProcessing(ctx context.Context, jobUUID uuid.UUID) error
	StartAttempt(ctx context.Context, jobUUID uuid.UUID, total int) error
	IncrementProcessed(ctx context.Context, jobUUID uuid.UUID, n int) error
	MarkCompleted(ctx context.Context, jobUUID uuid.UUID, c Completion) error
	MarkFailed(ctx context.Context, jobUUID uuid.UUID, message string) error
	FailStuck(ctx context.Context, startedBefore time.Time, message string) (int64, error)

	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, user User, limit, offset int) ([]*Notification, int64, error)
}

var ErrRecordNotFound = errors.New("record not found")

func (em *ExportDB) owner(tx *gorm.DB, user User) *gorm.DB {
	return tx.Where("owner_user_id = ? AND org_id = ?", user.Username, user.OrganizationID)
}

func (em *ExportDB) Create(ctx context.Context, job *ExportJob) error {
	return em.DB.WithContext(ctx).Create(job).Error
}

func (em *ExportDB) Get(ctx context.Context, jobUUID uuid.UUID) (*ExportJob, error) {
	var result ExportJob
	err := em.DB.WithContext(ctx).
		Where("uuid = ?", jobUUID).
		First(&result).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (em *ExportDB) GetWithUser(ctx context.Context, jobUUID uuid.UUID, user User) (*ExportJob, error) {
	var result ExportJob
	err := em.owner(em.DB.WithContext(ctx), user).
		Where("uuid = ?", jobUUID).
		First(&result).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (em *ExportDB) APIList(ctx context.Context, user User, limit, offset int) (result []*APIExportJob, total int64, err error) {
	base := em.owner(em.DB.WithContext(ctx).Model(&ExportJob{}), user)
	if err = base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err = base.Session(&gorm.Session{}).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&result).Error
	return
}

// MarkProcessing moves a pending job to processing. StartedAt is kept from
// the first attempt.
func (em *ExportDB) MarkProcessing(ctx context.Context, jobUUID uuid.UUID) error {
	now := time.Now()
	res := em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("uuid = ?", jobUUID).
		Updates(map[string]interface{}{
			"status":     string(Processing),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// StartAttempt records the matched total and resets progress. Each attempt
// regenerates the whole file.
func (em *ExportDB) StartAttempt(ctx context.Context, jobUUID uuid.UUID, total int) error {
	return em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("uuid = ?", jobUUID).
		Updates(map[string]interface{}{
			"total_records":     total,
			"processed_records": 0,
		}).Error
}

func (em *ExportDB) IncrementProcessed(ctx context.Context, jobUUID uuid.UUID, n int) error {
	return em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("uuid = ?", jobUUID).
		UpdateColumn("processed_records", gorm.Expr("processed_records + ?", n)).Error
}

func (em *ExportDB) MarkCompleted(ctx context.Context, jobUUID uuid.UUID, c Completion) error {
	values := map[string]interface{}{
		"status":            string(Completed),
		"total_records":     c.TotalRecords,
		"processed_records": c.TotalRecords,
		"completed_at":      time.Now(),
		"error_message":     nil,
	}
	if c.Path != "" {
		values["storage_disk"] = c.Disk
		values["storage_path"] = c.Path
	}
	return em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("uuid = ?", jobUUID).
		Updates(values).Error
}

func (em *ExportDB) MarkFailed(ctx context.Context, jobUUID uuid.UUID, message string) error {
	return em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("uuid = ?", jobUUID).
		Updates(map[string]interface{}{
			"status":        string(Failed),
			"error_message": message,
			"completed_at":  time.Now(),
		}).Error
}

// FailStuck fails jobs left in processing since before startedBefore, e.g.
// after a worker crash.
func (em *ExportDB) FailStuck(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	res := em.DB.WithContext(ctx).Model(&ExportJob{}).
		Where("status = ? AND started_at < ?", string(Processing), startedBefore).
		Updates(map[string]interface{}{
			"status":        string(Failed),
			"error_message": message,
			"completed_at":  time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (em *ExportDB) CreateNotification(ctx context.Context, n *Notification) error {
	return em.DB.WithContext(ctx).Create(n).Error
}

func (em *ExportDB) ListNotifications(ctx context.Context, user User, limit, offset int) (result []*Notification, total int64, err error) {
	base := em.owner(em.DB.WithContext(ctx).Model(&Notification{}), user)
	if err = base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err = base.Session(&gorm.Session{}).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&result).Error
	return
}
