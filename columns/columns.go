/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package columns

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
)

// Resolver validates requested export columns against an entity catalogue.
type Resolver struct {
	bounds    config.ColumnsConfig
	undefined string
	tag       language.Tag
}

func NewResolver(bounds config.ColumnsConfig, messages config.Messages) *Resolver {
	tag, err := language.Parse(messages.Language)
	if err != nil {
		tag = language.English
	}
	undefined := messages.UndefinedTitle
	if undefined == "" {
		undefined = "Undefined Title"
	}
	return &Resolver{
		bounds:    bounds,
		undefined: undefined,
		tag:       tag,
	}
}

// Resolve returns the columns to export. An empty request selects the entity
// defaults. Out of bounds or unknown selections are rejected, never
// truncated.
func (r *Resolver) Resolve(d *entities.Descriptor, requested []entities.ColumnSpec) ([]entities.ColumnSpec, error) {
	if len(requested) == 0 {
		return r.defaults(d), nil
	}

	if len(requested) < r.bounds.MinRequired {
		return nil, errors.Validation("columns", "at least %d column(s) must be selected, got %d", r.bounds.MinRequired, len(requested))
	}
	if r.bounds.MaxSelectable > 0 && len(requested) > r.bounds.MaxSelectable {
		return nil, errors.Validation("columns", "at most %d columns can be selected, got %d", r.bounds.MaxSelectable, len(requested))
	}

	out := make([]entities.ColumnSpec, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, c := range requested {
		field := strings.TrimSpace(c.Field)
		if _, ok := d.Label(field); !ok {
			return nil, errors.Validation("columns", "%q is not an exportable column of %s", c.Field, d.Name)
		}
		if _, dup := seen[field]; dup {
			return nil, errors.Validation("columns", "column %q selected more than once", field)
		}
		seen[field] = struct{}{}
		out = append(out, entities.ColumnSpec{Field: field, Title: r.title(d, field, c.Title)})
	}
	return out, nil
}

func (r *Resolver) defaults(d *entities.Descriptor) []entities.ColumnSpec {
	if d.Kind == entities.KindDefault {
		out := make([]entities.ColumnSpec, 0, len(d.Columns))
		for _, c := range d.Columns {
			out = append(out, entities.ColumnSpec{Field: c.Field, Title: r.title(d, c.Field, c.Label)})
		}
		return out
	}

	var out []entities.ColumnSpec
	if len(d.Defaults) > 0 {
		for _, c := range d.Defaults {
			out = append(out, entities.ColumnSpec{Field: c.Field, Title: r.title(d, c.Field, c.Title)})
		}
	} else {
		for _, c := range d.Columns {
			out = append(out, entities.ColumnSpec{Field: c.Field, Title: r.title(d, c.Field, c.Label)})
		}
	}
	if r.bounds.MaxDefault > 0 && len(out) > r.bounds.MaxDefault {
		out = out[:r.bounds.MaxDefault]
	}
	return out
}

// Catalogue lists every selectable column with its display title.
func (r *Resolver) Catalogue(d *entities.Descriptor) []entities.Column {
	out := make([]entities.Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		out = append(out, entities.Column{Field: c.Field, Label: r.title(d, c.Field, c.Label)})
	}
	return out
}

func (r *Resolver) title(d *entities.Descriptor, field, title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if label, ok := d.Label(field); ok && strings.TrimSpace(label) != "" {
		return label
	}
	return r.Humanize(field)
}

// Humanize turns "created_at" into "Created At". A blank field yields the
// undefined title marker.
func (r *Resolver) Humanize(field string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(field))
	if len(words) == 0 {
		return r.undefined
	}
	// a Caser keeps state between calls, so each call gets its own
	return cases.Title(r.tag).String(strings.Join(words, " "))
}
