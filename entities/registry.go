/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package entities

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm/schema"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
)

// Descriptor is the immutable registration of an entity. Capabilities are
// resolved once here instead of being probed on every export.
type Descriptor struct {
	Name      string
	Kind      Kind
	Entity    Entity
	Schema    *schema.Schema
	Table     string
	Columns   []Column
	Defaults  []ColumnSpec
	Relations []string

	Orderer       Orderer
	FilterApplier FilterApplier
	Scoper        Scoper
}

// HasColumn reports whether name is a database column of the entity.
func (d *Descriptor) HasColumn(name string) bool {
	return d.Field(name) != nil
}

// Field returns the schema field stored in column name, or nil.
func (d *Descriptor) Field(name string) *schema.Field {
	if name == "" {
		return nil
	}
	if f, ok := d.Schema.FieldsByDBName[name]; ok {
		return f
	}
	return nil
}

// PrimaryKey is the db name of the primary key, used as the sort tiebreaker.
func (d *Descriptor) PrimaryKey() string {
	if d.Schema.PrioritizedPrimaryField != nil {
		return d.Schema.PrioritizedPrimaryField.DBName
	}
	if len(d.Schema.PrimaryFieldDBNames) > 0 {
		return d.Schema.PrimaryFieldDBNames[0]
	}
	return ""
}

// Label returns the catalogue label of field.
func (d *Descriptor) Label(field string) (string, bool) {
	for _, c := range d.Columns {
		if c.Field == field {
			return c.Label, true
		}
	}
	return "", false
}

// NewBatch returns a pointer to an empty slice of the entity model, ready to
// be handed to gorm Find.
func (d *Descriptor) NewBatch() any {
	t := reflect.TypeOf(d.Entity.Model())
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(reflect.SliceOf(t)).Interface()
}

type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Descriptor
	fallback []Column
	cache    *sync.Map
	namer    schema.Namer
}

// NewRegistry creates a registry whose Default entities export fallback.
func NewRegistry(fallback []config.FallbackColumn) *Registry {
	cols := make([]Column, 0, len(fallback))
	for _, c := range fallback {
		cols = append(cols, Column{Field: c.Field, Label: c.Title})
	}
	return &Registry{
		entries:  map[string]*Descriptor{},
		fallback: cols,
		cache:    &sync.Map{},
		namer:    schema.NamingStrategy{},
	}
}

// Register resolves the capabilities of e. Names must be unique and the
// model must be parseable by gorm.
func (r *Registry) Register(e Entity) error {
	name := e.Name()
	if name == "" {
		return fmt.Errorf("entity of type %T has no name", e)
	}

	sch, err := schema.Parse(e.Model(), r.cache, r.namer)
	if err != nil {
		return fmt.Errorf("failed to parse model for entity %s: %w", name, err)
	}

	d := &Descriptor{
		Name:   name,
		Kind:   KindDefault,
		Entity: e,
		Schema: sch,
		Table:  sch.Table,
	}

	if ex, ok := e.(Exportable); ok {
		d.Kind = KindExportable
		d.Columns = append([]Column(nil), ex.ExportColumns()...)
		d.Defaults = append([]ColumnSpec(nil), ex.DefaultExportColumns()...)
		for _, c := range d.Columns {
			if !d.HasColumn(topLevel(c.Field)) && !isRelationPath(sch, c.Field) {
				return fmt.Errorf("entity %s declares unknown export column %q", name, c.Field)
			}
		}
	} else {
		d.Columns = append([]Column(nil), r.fallback...)
	}
	if rel, ok := e.(Relations); ok {
		d.Relations = append([]string(nil), rel.ExportRelations()...)
	}
	if o, ok := e.(Orderer); ok {
		d.Orderer = o
	}
	if fa, ok := e.(FilterApplier); ok {
		d.FilterApplier = fa
	}
	if sc, ok := e.(Scoper); ok {
		d.Scoper = sc
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("entity %s is already registered", name)
	}
	r.entries[name] = d
	return nil
}

func (r *Registry) MustRegister(es ...Entity) {
	for _, e := range es {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownEntity, name)
	}
	return d, nil
}

// All returns the registered descriptors sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func topLevel(field string) string {
	for i := 0; i < len(field); i++ {
		if field[i] == '.' {
			return field[:i]
		}
	}
	return field
}

// isRelationPath accepts dotted fields such as "owner.name" whose first
// segment is a relationship of the model.
func isRelationPath(sch *schema.Schema, field string) bool {
	head := topLevel(field)
	if head == field {
		return false
	}
	if _, ok := sch.Relationships.Relations[head]; ok {
		return true
	}
	for relName := range sch.Relationships.Relations {
		if (schema.NamingStrategy{}).ColumnName("", relName) == head {
			return true
		}
	}
	return false
}
