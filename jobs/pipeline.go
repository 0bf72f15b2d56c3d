/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"

	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/columns"
	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/query"
	"github.com/redhatinsights/spreadsheet-export-service/render"
	"github.com/redhatinsights/spreadsheet-export-service/stream"
)

// Pipeline turns a Message into a filled workbook. The request handler and
// the background worker share it, so both paths produce identical files.
type Pipeline struct {
	DB       *gorm.DB
	Registry *entities.Registry
	Builder  *query.Builder
	Resolver *columns.Resolver
	Renderer *render.Renderer
	Limits   config.LimitsConfig
}

// Prepared is a validated export that has not touched the database yet.
type Prepared struct {
	Entity   *entities.Descriptor
	Plan     *query.Plan
	Columns  []entities.ColumnSpec
	Template string
	Warnings []query.Warning
}

// AllWarnings adds the filters the entity declined once the plan ran.
func (p *Prepared) AllWarnings() []query.Warning {
	return append(append([]query.Warning(nil), p.Warnings...), p.Plan.Declined()...)
}

// Prepare resolves the entity, columns and query plan of m. Errors are
// validation errors or errors.ErrUnknownEntity.
func (p *Pipeline) Prepare(m Message) (*Prepared, error) {
	d, err := p.Registry.Lookup(m.Entity)
	if err != nil {
		return nil, err
	}
	cols, err := p.Resolver.Resolve(d, m.Columns)
	if err != nil {
		return nil, err
	}

	owner := m.Owner
	plan, warnings, err := p.Builder.Build(d, m.Filters, query.Options{
		SortField:     m.SortField,
		SortDirection: m.SortDirection,
		Owner:         &owner,
	})
	if err != nil {
		return nil, err
	}
	if len(m.Relations) > 0 {
		plan.Preloads = mergeRelations(plan.Preloads, m.Relations)
	}

	template := m.Template
	if template == "" {
		template = render.TemplateFor(len(m.Columns) > 0)
	}
	return &Prepared{Entity: d, Plan: plan, Columns: cols, Template: template, Warnings: warnings}, nil
}

// Count is the raw number of matching records. Zero yields errors.ErrNoData.
func (p *Pipeline) Count(ctx context.Context, prep *Prepared) (int, error) {
	return stream.Count(ctx, p.DB, prep.Plan)
}

// Render streams the plan into a new workbook. onChunk sees the size of
// every chunk appended. The caller owns the returned workbook.
func (p *Pipeline) Render(ctx context.Context, prep *Prepared, onChunk func(n int) error) (*render.Workbook, error) {
	wb, err := p.Renderer.New(prep.Template, prep.Columns)
	if err != nil {
		return nil, err
	}
	cursor := stream.Open(p.DB, prep.Plan, p.Limits.ChunkSize, p.Limits.MaxRecords)
	if err := wb.Fill(ctx, cursor, onChunk); err != nil {
		wb.Close()
		return nil, err
	}
	return wb, nil
}

func mergeRelations(have, extra []string) []string {
	seen := make(map[string]bool, len(have))
	for _, r := range have {
		seen[r] = true
	}
	for _, r := range extra {
		if r != "" && !seen[r] {
			seen[r] = true
			have = append(have, r)
		}
	}
	return have
}
