/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package exports

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

// ExportRequestBody is the JSON body of POST /entities/{entity}/exports.
type ExportRequestBody struct {
	Filters        map[string]any `json:"filters"`
	Columns        []APIColumn    `json:"columns" validate:"omitempty,dive"`
	OrderColumn    string         `json:"order_column" validate:"omitempty,max=128"`
	OrderDirection string         `json:"order_direction" validate:"omitempty,oneof=asc desc ASC DESC"`
}

type APIColumn struct {
	Field string `json:"field" validate:"required,max=128"`
	Title string `json:"title" validate:"max=255"`
}

// Request converts the body into an ExportRequest. Columns stays nil when
// the caller sent none so the entity defaults apply.
func (b ExportRequestBody) Request(entity string, owner entities.Owner, requestID string) ExportRequest {
	var cols []entities.ColumnSpec
	for _, c := range b.Columns {
		cols = append(cols, entities.ColumnSpec{Field: c.Field, Title: c.Title})
	}
	return ExportRequest{
		Entity:        entity,
		Filters:       b.Filters,
		Columns:       cols,
		SortField:     b.OrderColumn,
		SortDirection: b.OrderDirection,
		Owner:         owner,
		RequestID:     requestID,
	}
}

// describeValidation flattens validator errors into one readable message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// APIEntity describes an exportable entity and its columns.
type APIEntity struct {
	Name           string                `json:"name"`
	Kind           string                `json:"kind"`
	Columns        []entities.Column     `json:"columns"`
	DefaultColumns []entities.ColumnSpec `json:"default_columns"`
}

// APIQueued is returned with 202 when the export moved to the background.
type APIQueued struct {
	Message  string              `json:"message"`
	Job      models.APIExportJob `json:"job"`
	Warnings []string            `json:"warnings,omitempty"`
}

type APIMessage struct {
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

// APIExportStatus is the detail view of one export job.
type APIExportStatus struct {
	models.APIExportJob
	ErrorMessage *string `json:"error_message,omitempty"`
	DownloadURL  string  `json:"download_url,omitempty"`
}

func apiJob(j *models.ExportJob) models.APIExportJob {
	return models.APIExportJob{
		UUID:             j.UUID,
		EntityType:       j.EntityType,
		FileName:         j.FileName,
		Status:           string(j.Status),
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		CreatedAt:        j.CreatedAt,
		CompletedAt:      j.CompletedAt,
	}
}
