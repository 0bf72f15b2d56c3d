/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
)

const (
	Asc  = "asc"
	Desc = "desc"

	defaultSortField = "created_at"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
}

type Op string

const (
	OpEq      Op = "="
	OpIn      Op = "IN"
	OpDateGte Op = "DATE >="
	OpDateLte Op = "DATE <="
	OpDateEq  Op = "DATE ="
)

// Predicate is one compiled filter condition on a resolved column.
type Predicate struct {
	Filter string
	Column string
	Op     Op
	Value  any
}

// Warning records a filter or sort input that was ignored.
type Warning struct {
	Filter  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Filter, w.Message)
}

// Options carries the non-filter inputs of a plan.
type Options struct {
	SortField     string
	SortDirection string
	Owner         *entities.Owner
}

// Plan is a compiled export query. It holds no connection and can be
// applied to any *gorm.DB.
type Plan struct {
	Entity        *entities.Descriptor
	Predicates    []Predicate
	SortField     string
	SortDirection string
	Tiebreaker    string
	Preloads      []string
	Owner         *entities.Owner

	hooked []filters.Filter
	// unresolved hooked filters have no column to fall back on
	unresolved map[string]bool
	declined   []Warning
	log        *zap.SugaredLogger
}

type Builder struct {
	dateFilters map[string]bool
	equality    map[string]bool
	log         *zap.SugaredLogger
}

// NewBuilder creates a builder. Of the configured default filters, the
// created_at and updated_at style names compile to date predicates and the
// rest to equality.
func NewBuilder(cfg config.FiltersConfig, log *zap.SugaredLogger) *Builder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Builder{dateFilters: map[string]bool{}, equality: map[string]bool{}, log: log}
	for _, name := range cfg.DefaultFilters {
		if strings.HasSuffix(name, "_at") || strings.HasSuffix(name, "_date") {
			b.dateFilters[name] = true
		} else {
			b.equality[name] = true
		}
	}
	return b
}

// Build compiles the canonical filters and sort order for d. Filters that
// resolve to no column are dropped with a warning, unless the entity applies
// filters itself; those are only known to be dropped once the plan is
// applied, see Plan.Declined. Only an invalid sort direction is an error.
func (b *Builder) Build(d *entities.Descriptor, set filters.Set, opts Options) (*Plan, []Warning, error) {
	direction, err := parseDirection(opts.SortDirection)
	if err != nil {
		return nil, nil, err
	}

	p := &Plan{
		Entity:        d,
		SortDirection: direction,
		Tiebreaker:    d.PrimaryKey(),
		Preloads:      append([]string(nil), d.Relations...),
		Owner:         opts.Owner,
		unresolved:    map[string]bool{},
		log:           b.log,
	}
	var warnings []Warning

	for _, f := range set.All() {
		column, ok := resolveColumn(d, f.Name)
		if !ok {
			if d.FilterApplier != nil {
				p.hooked = append(p.hooked, f)
				p.unresolved[f.Name] = true
				continue
			}
			warnings = append(warnings, Warning{Filter: f.Name, Message: "no matching column, filter dropped"})
			continue
		}
		if d.FilterApplier != nil {
			p.hooked = append(p.hooked, f)
		}
		preds, ws := b.compile(f, column)
		warnings = append(warnings, ws...)
		p.Predicates = append(p.Predicates, preds...)
	}

	sortField, ws := b.resolveSort(d, opts.SortField)
	warnings = append(warnings, ws...)
	p.SortField = sortField
	if p.Tiebreaker == p.SortField {
		p.Tiebreaker = ""
	}

	for _, w := range warnings {
		b.log.Warnw("export query input ignored", "entity", d.Name, "filter", w.Filter, "reason", w.Message)
	}
	return p, warnings, nil
}

func (b *Builder) compile(f filters.Filter, column string) ([]Predicate, []Warning) {
	switch f.Value.Kind {
	case filters.Range:
		var preds []Predicate
		var warnings []Warning
		for _, bound := range []struct {
			value *string
			op    Op
		}{{f.Value.Range.From, OpDateGte}, {f.Value.Range.Until, OpDateLte}} {
			if bound.value == nil {
				continue
			}
			day, err := parseDate(*bound.value)
			if err != nil {
				warnings = append(warnings, Warning{Filter: f.Name, Message: fmt.Sprintf("unparseable date bound %q dropped", *bound.value)})
				continue
			}
			preds = append(preds, Predicate{Filter: f.Name, Column: column, Op: bound.op, Value: day})
		}
		return preds, warnings
	case filters.List:
		return []Predicate{{Filter: f.Name, Column: column, Op: OpIn, Value: f.Value.List}}, nil
	default:
		if b.dateFilters[f.Name] {
			if s, ok := f.Value.Scalar.(string); ok {
				if day, err := parseDate(s); err == nil {
					return []Predicate{{Filter: f.Name, Column: column, Op: OpDateEq, Value: day}}, nil
				}
			}
			if t, ok := f.Value.Scalar.(time.Time); ok {
				return []Predicate{{Filter: f.Name, Column: column, Op: OpDateEq, Value: t.Format("2006-01-02")}}, nil
			}
		}
		return []Predicate{{Filter: f.Name, Column: column, Op: OpEq, Value: f.Value.Scalar}}, nil
	}
}

func (b *Builder) resolveSort(d *entities.Descriptor, requested string) (string, []Warning) {
	requested = strings.TrimSpace(requested)
	if d.Orderer != nil && requested != "" {
		return requested, nil
	}
	if requested != "" {
		if column, ok := resolveColumn(d, requested); ok {
			return column, nil
		}
	}

	fallback := d.PrimaryKey()
	if d.HasColumn(defaultSortField) {
		fallback = defaultSortField
	}
	if requested == "" {
		return fallback, nil
	}
	return fallback, []Warning{{Filter: requested, Message: fmt.Sprintf("unknown sort column, sorting by %s", fallback)}}
}

// resolveColumn tries the name itself, then the foreign key convention.
func resolveColumn(d *entities.Descriptor, name string) (string, bool) {
	if d.HasColumn(name) {
		return name, true
	}
	if fk := name + "_id"; d.HasColumn(fk) {
		return fk, true
	}
	return "", false
}

func parseDirection(dir string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "desc", "descending":
		return Desc, nil
	case "asc", "ascending":
		return Asc, nil
	default:
		return "", errors.Validation("order_direction", "must be asc or desc, got %q", dir)
	}
}

func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", s)
}

// Query applies the plan to db. The result has the filter, scope, preload
// and ordering clauses but no limit or offset.
func (p *Plan) Query(db *gorm.DB) *gorm.DB {
	tx := p.where(db.Model(p.Entity.Entity.Model()))
	for _, rel := range p.Preloads {
		tx = tx.Preload(rel)
	}
	return p.order(tx)
}

// Count runs a cheap count of the rows the plan matches.
func (p *Plan) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := p.where(db.WithContext(ctx).Model(p.Entity.Entity.Model())).Count(&n).Error
	return n, err
}

func (p *Plan) where(tx *gorm.DB) *gorm.DB {
	d := p.Entity
	if p.Owner != nil && d.Scoper != nil {
		tx = d.Scoper.ScopeExport(tx, *p.Owner)
	}

	handled := map[string]bool{}
	if d.FilterApplier != nil {
		for _, f := range p.hooked {
			var ok bool
			if tx, ok = applyHook(d.FilterApplier, tx, f); ok {
				handled[f.Name] = true
			} else if p.unresolved[f.Name] {
				p.decline(f.Name)
			}
		}
	}

	for _, pred := range p.Predicates {
		if handled[pred.Filter] {
			continue
		}
		col := clause.Column{Table: d.Table, Name: pred.Column}
		switch pred.Op {
		case OpIn:
			tx = tx.Where(clause.IN{Column: col, Values: pred.Value.([]any)})
		case OpDateGte:
			tx = tx.Where("DATE(?) >= ?", col, pred.Value)
		case OpDateLte:
			tx = tx.Where("DATE(?) <= ?", col, pred.Value)
		case OpDateEq:
			tx = tx.Where("DATE(?) = ?", col, pred.Value)
		default:
			tx = tx.Where(clause.Eq{Column: col, Value: pred.Value})
		}
	}
	return tx
}

// Declined lists the filters the entity refused that match no column either.
// It is filled in by Query and Count.
func (p *Plan) Declined() []Warning {
	return append([]Warning(nil), p.declined...)
}

func (p *Plan) decline(name string) {
	for _, w := range p.declined {
		if w.Filter == name {
			return
		}
	}
	w := Warning{Filter: name, Message: "no matching column, filter dropped"}
	p.declined = append(p.declined, w)
	if p.log != nil {
		p.log.Warnw("export query input ignored", "entity", p.Entity.Name, "filter", name, "reason", w.Message)
	}
}

func applyHook(fa entities.FilterApplier, tx *gorm.DB, f filters.Filter) (*gorm.DB, bool) {
	next, ok := fa.ApplyFilter(tx, f)
	if !ok || next == nil {
		return tx, false
	}
	return next, true
}

func (p *Plan) order(tx *gorm.DB) *gorm.DB {
	d := p.Entity
	if d.Orderer != nil {
		tx = d.Orderer.ApplyOrdering(tx, p.SortField, p.SortDirection)
	} else {
		tx = tx.Order(clause.OrderByColumn{
			Column: clause.Column{Table: d.Table, Name: p.SortField},
			Desc:   p.SortDirection == Desc,
		})
	}
	if p.Tiebreaker != "" {
		tx = tx.Order(clause.OrderByColumn{
			Column: clause.Column{Table: d.Table, Name: p.Tiebreaker},
			Desc:   p.SortDirection == Desc,
		})
	}
	return tx
}
