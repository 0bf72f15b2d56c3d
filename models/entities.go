package models

import (
	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/entities"
)

// ExportJobs exposes the export job history itself as an exportable entity.
type ExportJobs struct{}

func (ExportJobs) Name() string { return "export_jobs" }

func (ExportJobs) Model() any { return &ExportJob{} }

func (ExportJobs) ExportColumns() []entities.Column {
	return []entities.Column{
		{Field: "uuid", Label: "ID"},
		{Field: "entity_type", Label: "Entity"},
		{Field: "file_name", Label: "File Name"},
		{Field: "status", Label: "Status"},
		{Field: "total_records", Label: "Total Records"},
		{Field: "processed_records", Label: "Processed Records"},
		{Field: "error_message", Label: "Error"},
		{Field: "owner_user_id", Label: "Owner"},
		{Field: "started_at", Label: "Started At"},
		{Field: "completed_at", Label: "Completed At"},
		{Field: "created_at", Label: "Created At"},
	}
}

func (ExportJobs) DefaultExportColumns() []entities.ColumnSpec {
	return []entities.ColumnSpec{
		{Field: "file_name", Title: "File Name"},
		{Field: "entity_type", Title: "Entity"},
		{Field: "status", Title: "Status"},
		{Field: "total_records", Title: "Total Records"},
		{Field: "created_at", Title: "Created At"},
		{Field: "completed_at", Title: "Completed At"},
	}
}

// Notifications declares no export metadata and is exported with the
// configured fallback columns.
type Notifications struct{}

func (Notifications) Name() string { return "notifications" }

func (Notifications) Model() any { return &Notification{} }

func (ExportJobs) ScopeExport(tx *gorm.DB, owner entities.Owner) *gorm.DB {
	return tx.Where("export_jobs.owner_user_id = ? AND export_jobs.org_id = ?", owner.UserID, owner.OrgID)
}

func (Notifications) ScopeExport(tx *gorm.DB, owner entities.Owner) *gorm.DB {
	return tx.Where("notifications.owner_user_id = ? AND notifications.org_id = ?", owner.UserID, owner.OrgID)
}
