/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package filters

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the shape of a canonical filter value.
type Kind int

const (
	Scalar Kind = iota
	List
	Range
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case List:
		return "list"
	case Range:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Bounds of a date range. At least one bound is set on every canonical range.
type Bounds struct {
	From  *string `json:"from"`
	Until *string `json:"until"`
}

// Value is never empty: the normalizer drops entries instead of producing
// an empty scalar, list or range.
type Value struct {
	Kind   Kind
	Scalar any
	List   []any
	Range  Bounds
}

// Raw returns the value in the plain shape accepted by Normalize.
func (v Value) Raw() any {
	switch v.Kind {
	case List:
		out := make([]any, len(v.List))
		copy(out, v.List)
		return out
	case Range:
		return map[string]any{"from": derefOrNil(v.Range.From), "until": derefOrNil(v.Range.Until)}
	default:
		return v.Scalar
	}
}

type Filter struct {
	Name  string
	Value Value
}

// Set is an ordered collection of canonical filters keyed by name.
type Set struct {
	filters []Filter
}

// NewSet builds a set from already canonical filters. Later duplicates win.
func NewSet(fs ...Filter) Set {
	byName := make(map[string]Filter, len(fs))
	for _, f := range fs {
		byName[f.Name] = f
	}
	out := make([]Filter, 0, len(byName))
	for _, f := range byName {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Set{filters: out}
}

func (s Set) Len() int { return len(s.filters) }

func (s Set) All() []Filter {
	out := make([]Filter, len(s.filters))
	copy(out, s.filters)
	return out
}

func (s Set) Get(name string) (Filter, bool) {
	i := sort.Search(len(s.filters), func(i int) bool { return s.filters[i].Name >= name })
	if i < len(s.filters) && s.filters[i].Name == name {
		return s.filters[i], true
	}
	return Filter{}, false
}

func (s Set) Names() []string {
	names := make([]string, len(s.filters))
	for i, f := range s.filters {
		names[i] = f.Name
	}
	return names
}

// Raw returns the canonical raw form. Normalizing it yields the same set.
func (s Set) Raw() map[string]any {
	raw := make(map[string]any, len(s.filters))
	for _, f := range s.filters {
		raw[f.Name] = f.Value.Raw()
	}
	return raw
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Raw())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = defaultNormalizer().Normalize(raw)
	return nil
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
