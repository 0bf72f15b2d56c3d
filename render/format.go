/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package render

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

const nullCell = "-"

// Formatter turns record values into spreadsheet cell values.
type Formatter struct {
	DateLayout     string
	DateOnlyLayout string
	Yes            string
	No             string
}

func NewFormatter(dates config.DatesConfig, messages config.Messages) Formatter {
	f := Formatter{
		DateLayout:     dates.DateFormat,
		DateOnlyLayout: dates.DateOnlyFormat,
		Yes:            messages.Yes,
		No:             messages.No,
	}
	if f.DateLayout == "" {
		f.DateLayout = "02/01/2006 15:04"
	}
	if f.DateOnlyLayout == "" {
		f.DateOnlyLayout = "02/01/2006"
	}
	if f.Yes == "" {
		f.Yes = "Yes"
	}
	if f.No == "" {
		f.No = "No"
	}
	return f
}

// Cell formats v. Numbers stay numeric, every other value becomes text.
func (f Formatter) Cell(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nullCell
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nullCell
	}
	v = rv.Interface()

	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nullCell
		}
		return t.Format(f.DateLayout)
	case datatypes.Date:
		return time.Time(t).Format(f.DateOnlyLayout)
	case datatypes.JSON:
		if len(t) == 0 || string(t) == "null" {
			return nullCell
		}
		return string(t)
	case json.RawMessage:
		if len(t) == 0 || string(t) == "null" {
			return nullCell
		}
		return string(t)
	case []byte:
		return string(t)
	case bool:
		if t {
			return f.Yes
		}
		return f.No
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case driver.Valuer:
		inner, err := t.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprint(inner)
		}
		return f.Cell(inner)
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return f.Cell(rv.Bool())
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nullCell
		}
		return f.encode(v)
	case reflect.Array, reflect.Struct:
		return f.encode(v)
	}
	return fmt.Sprint(v)
}

func (f Formatter) encode(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

// Lookup resolves a dotted field path on a record. Struct segments match
// the db column name, the json name or the Go field name. Missing values
// resolve to nil.
func Lookup(record any, path string) any {
	cur := reflect.ValueOf(record)
	for _, segment := range strings.Split(path, ".") {
		for cur.IsValid() && (cur.Kind() == reflect.Pointer || cur.Kind() == reflect.Interface) {
			if cur.IsNil() {
				return nil
			}
			cur = cur.Elem()
		}
		if !cur.IsValid() {
			return nil
		}
		switch cur.Kind() {
		case reflect.Struct:
			cur = structField(cur, segment)
		case reflect.Map:
			if cur.Type().Key().Kind() != reflect.String {
				return nil
			}
			cur = cur.MapIndex(reflect.ValueOf(segment).Convert(cur.Type().Key()))
		default:
			return nil
		}
	}
	if !cur.IsValid() || !cur.CanInterface() {
		return nil
	}
	return cur.Interface()
}

var namer = schema.NamingStrategy{}

func structField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if found := structField(v.Field(i), name); found.IsValid() {
				return found
			}
			continue
		}
		if fieldMatches(sf, name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func fieldMatches(sf reflect.StructField, name string) bool {
	if tag := schema.ParseTagSetting(sf.Tag.Get("gorm"), ";"); tag["COLUMN"] == name {
		return true
	}
	if jsonName, _, _ := strings.Cut(sf.Tag.Get("json"), ","); jsonName != "" && jsonName != "-" && jsonName == name {
		return true
	}
	return namer.ColumnName("", sf.Name) == name || strings.EqualFold(sf.Name, name)
}
