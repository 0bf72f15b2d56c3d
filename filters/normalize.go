/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package filters

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

// Source supplies raw filter state, e.g. a decoded request body.
type Source interface {
	// Names lists the filters present in the source.
	Names() ([]string, error)
	// State returns the raw value of a single filter.
	State(name string) (any, error)
}

// MapSource adapts a plain map to Source.
type MapSource map[string]any

func (m MapSource) Names() ([]string, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (m MapSource) State(name string) (any, error) {
	return m[name], nil
}

type Normalizer struct {
	aliases  []config.RangeAlias
	fallback []string
	log      *zap.SugaredLogger
}

func NewNormalizer(cfg config.FiltersConfig, log *zap.SugaredLogger) *Normalizer {
	aliases := cfg.RangeAliases
	if len(aliases) == 0 {
		aliases = config.DefaultRangeAliases()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Normalizer{aliases: aliases, fallback: cfg.FallbackNames, log: log}
}

func defaultNormalizer() *Normalizer {
	return NewNormalizer(config.FiltersConfig{}, nil)
}

// Normalize turns raw filter input into a canonical set. An entry that
// cannot be normalized is logged and skipped.
func (n *Normalizer) Normalize(raw map[string]any) Set {
	return n.Extract(MapSource(raw))
}

// Extract reads every filter from src. When src cannot list its filters the
// configured fallback names are read from it instead.
func (n *Normalizer) Extract(src Source) Set {
	names, err := src.Names()
	if err != nil {
		n.log.Warnw("filter extraction failed, using fallback filter names", "error", err, "fallback", n.fallback)
		names = n.fallback
	}

	out := make([]Filter, 0, len(names))
	for _, name := range names {
		state, err := src.State(name)
		if err != nil {
			n.log.Warnw("failed to read filter state", "filter", name, "error", err)
			continue
		}
		v, ok, err := n.normalizeEntry(state)
		if err != nil {
			n.log.Warnw("skipping filter that could not be normalized", "filter", name, "error", err)
			continue
		}
		if ok {
			out = append(out, Filter{Name: name, Value: v})
		}
	}
	return NewSet(out...)
}

func (n *Normalizer) normalizeEntry(raw any) (Value, bool, error) {
	rv, err := indirect(raw)
	if err != nil {
		return Value{}, false, err
	}
	if !rv.IsValid() {
		return Value{}, false, nil
	}

	if s, ok := asStringer(rv); ok {
		return scalarValue(s)
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return scalarValue(string(rv.Bytes()))
		}
		list, err := normalizeList(rv, true)
		if err != nil || len(list) == 0 {
			return Value{}, false, err
		}
		return Value{Kind: List, List: list}, true, nil
	case reflect.Map:
		return n.normalizeObject(rv)
	default:
		s, ok, err := normalizeScalar(rv)
		if err != nil || !ok {
			return Value{}, false, err
		}
		return Value{Kind: Scalar, Scalar: s}, true, nil
	}
}

func (n *Normalizer) normalizeObject(rv reflect.Value) (Value, bool, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return Value{}, false, fmt.Errorf("unsupported filter object key type %s", rv.Type().Key())
	}
	obj := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		obj[iter.Key().String()] = iter.Value().Interface()
	}

	if values, ok := obj["values"]; ok {
		vv, err := indirect(values)
		if err != nil {
			return Value{}, false, err
		}
		if !vv.IsValid() {
			return Value{}, false, nil
		}
		if vv.Kind() != reflect.Slice && vv.Kind() != reflect.Array {
			values = []any{values}
		}
		return n.normalizeEntry(values)
	}

	if value, ok := obj["value"]; ok {
		vv, err := indirect(value)
		if err != nil {
			return Value{}, false, err
		}
		if vv.IsValid() && vv.Kind() == reflect.Map {
			return Value{}, false, fmt.Errorf("nested filter object under value")
		}
		return n.normalizeEntry(value)
	}

	for _, alias := range n.aliases {
		from, hasFrom := obj[alias.From]
		until, hasUntil := obj[alias.Until]
		if !hasFrom && !hasUntil {
			continue
		}
		bounds := Bounds{}
		var err error
		if bounds.From, err = normalizeBound(from); err != nil {
			return Value{}, false, err
		}
		if bounds.Until, err = normalizeBound(until); err != nil {
			return Value{}, false, err
		}
		if bounds.From == nil && bounds.Until == nil {
			return Value{}, false, nil
		}
		return Value{Kind: Range, Range: bounds}, true, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	remainder := make([]any, 0, len(keys))
	for _, k := range keys {
		remainder = append(remainder, obj[k])
	}
	list, err := normalizeList(reflect.ValueOf(remainder), true)
	if err != nil || len(list) == 0 {
		return Value{}, false, err
	}
	return Value{Kind: List, List: list}, true, nil
}

// normalizeList drops empty members and duplicates. Nested lists are
// flattened one level.
func normalizeList(rv reflect.Value, flatten bool) ([]any, error) {
	out := make([]any, 0, rv.Len())
	seen := make(map[string]struct{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev, err := indirect(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		if !ev.IsValid() {
			continue
		}
		if str, ok := asStringer(ev); ok {
			if v, ok, _ := scalarString(str); ok {
				appendUnique(&out, seen, v)
			}
			continue
		}
		if flatten && (ev.Kind() == reflect.Slice || ev.Kind() == reflect.Array) && ev.Type().Elem().Kind() != reflect.Uint8 {
			nested, err := normalizeList(ev, false)
			if err != nil {
				return nil, err
			}
			for _, v := range nested {
				appendUnique(&out, seen, v)
			}
			continue
		}
		if ev.Kind() == reflect.Map || ev.Kind() == reflect.Slice || ev.Kind() == reflect.Array {
			// deeper structures carry no filterable value
			continue
		}
		s, ok, err := normalizeScalar(ev)
		if err != nil {
			return nil, err
		}
		if ok {
			appendUnique(&out, seen, s)
		}
	}
	return out, nil
}

func appendUnique(out *[]any, seen map[string]struct{}, v any) {
	key := fmt.Sprintf("%T:%v", v, v)
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	*out = append(*out, v)
}

func normalizeScalar(rv reflect.Value) (any, bool, error) {
	switch rv.Kind() {
	case reflect.String:
		s := rv.String()
		if strings.TrimSpace(s) == "" {
			return nil, false, nil
		}
		return s, true, nil
	case reflect.Bool:
		return rv.Bool(), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true, nil
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			if t.IsZero() {
				return nil, false, nil
			}
			return t, true, nil
		}
	}
	return nil, false, fmt.Errorf("unsupported filter value of type %s", rv.Type())
}

// asStringer reports values such as uuids that filter as their string form.
// time.Time stays a scalar of its own.
func asStringer(rv reflect.Value) (string, bool) {
	if rv.Kind() != reflect.Array && rv.Kind() != reflect.Struct {
		return "", false
	}
	if !rv.CanInterface() {
		return "", false
	}
	if _, isTime := rv.Interface().(time.Time); isTime {
		return "", false
	}
	if s, ok := rv.Interface().(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

func scalarString(s string) (any, bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, false, nil
	}
	return s, true, nil
}

func scalarValue(s string) (Value, bool, error) {
	v, ok, err := scalarString(s)
	if err != nil || !ok {
		return Value{}, false, err
	}
	return Value{Kind: Scalar, Scalar: v}, true, nil
}

func normalizeBound(raw any) (*string, error) {
	rv, err := indirect(raw)
	if err != nil || !rv.IsValid() {
		return nil, err
	}
	var s string
	switch rv.Kind() {
	case reflect.String:
		s = strings.TrimSpace(rv.String())
	case reflect.Struct:
		t, ok := rv.Interface().(time.Time)
		if !ok {
			return nil, fmt.Errorf("unsupported range bound of type %s", rv.Type())
		}
		if t.IsZero() {
			return nil, nil
		}
		s = t.Format("2006-01-02")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		s = fmt.Sprint(rv.Interface())
	default:
		return nil, fmt.Errorf("unsupported range bound of type %s", rv.Type())
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// indirect follows pointers and interfaces. An invalid result means nil.
func indirect(raw any) (reflect.Value, error) {
	rv := reflect.ValueOf(raw)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return rv, nil
	}
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return reflect.Value{}, fmt.Errorf("unsupported filter value of type %s", rv.Type())
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return reflect.Value{}, nil
		}
	}
	return rv, nil
}
