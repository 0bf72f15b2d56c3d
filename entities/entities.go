/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package entities

import (
	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/filters"
)

// Entity is a table backed record type that can be exported.
type Entity interface {
	// Name is the identifier used in routes and job messages.
	Name() string
	// Model returns a pointer to the gorm model, e.g. &models.ExportJob{}.
	Model() any
}

// Column is a selectable export field and its display label.
type Column struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// ColumnSpec is one resolved spreadsheet column.
type ColumnSpec struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

// Exportable entities declare their own column catalogue and defaults.
type Exportable interface {
	Entity
	ExportColumns() []Column
	DefaultExportColumns() []ColumnSpec
}

// Relations lists the associations preloaded for every exported record.
type Relations interface {
	ExportRelations() []string
}

// Orderer replaces the default ORDER BY for the entity, e.g. to sort by a
// column of a joined relation.
type Orderer interface {
	ApplyOrdering(tx *gorm.DB, field string, direction string) *gorm.DB
}

// FilterApplier compiles filters that only make sense for one entity. It
// reports false to leave the filter to the generic compilation.
type FilterApplier interface {
	ApplyFilter(tx *gorm.DB, f filters.Filter) (*gorm.DB, bool)
}

// Owner identifies the user an export runs for.
type Owner struct {
	UserID string `json:"user_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
}

// Scoper restricts the exported rows to those visible to the owner.
type Scoper interface {
	ScopeExport(tx *gorm.DB, owner Owner) *gorm.DB
}

type Kind int

const (
	KindDefault Kind = iota
	KindExportable
)

func (k Kind) String() string {
	if k == KindExportable {
		return "exportable"
	}
	return "default"
}
