/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package render

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/stream"
)

const (
	TemplateSimple   = "default-simple"
	TemplateAdvanced = "default-advanced"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	sheetName   = "Export"
	columnWidth = 22
)

// TemplateFor picks the template id: simple when the caller relied on the
// entity defaults, advanced when columns were selected explicitly.
func TemplateFor(selectedColumns bool) string {
	if selectedColumns {
		return TemplateAdvanced
	}
	return TemplateSimple
}

type Renderer struct {
	formatter Formatter
	undefined string
}

func NewRenderer(dates config.DatesConfig, messages config.Messages) *Renderer {
	undefined := messages.UndefinedTitle
	if undefined == "" {
		undefined = "Undefined Title"
	}
	return &Renderer{formatter: NewFormatter(dates, messages), undefined: undefined}
}

// Workbook is a single sheet spreadsheet filled chunk by chunk. Rows are
// handed to the excelize stream writer, which spills to disk, so memory use
// does not grow with the number of rows.
type Workbook struct {
	file      *excelize.File
	sw        *excelize.StreamWriter
	columns   []entities.ColumnSpec
	formatter Formatter
	template  string
	row       int
	flushed   bool
}

// New starts a workbook for columns with the header row written.
func (r *Renderer) New(template string, columns []entities.ColumnSpec) (*Workbook, error) {
	if template != TemplateSimple && template != TemplateAdvanced {
		return nil, errors.Validation("template", "unknown export template %q", template)
	}
	if len(columns) == 0 {
		return nil, errors.Validation("columns", "an export needs at least one column")
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open stream writer: %w", err)
	}

	wb := &Workbook{
		file:      f,
		sw:        sw,
		columns:   columns,
		formatter: r.formatter,
		template:  template,
		row:       1,
	}
	if err := wb.writeHeader(r.undefined); err != nil {
		f.Close()
		return nil, err
	}
	return wb, nil
}

func (w *Workbook) writeHeader(undefined string) error {
	if w.template == TemplateAdvanced {
		err := w.sw.SetPanes(&excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
		if err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}
	if err := w.sw.SetColWidth(1, len(w.columns), columnWidth); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	header := make([]interface{}, len(w.columns))
	for i, c := range w.columns {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = undefined
		}
		header[i] = excelize.Cell{StyleID: style, Value: title}
	}
	return w.writeRow(header)
}

// Append writes one row per record.
func (w *Workbook) Append(records []any) error {
	for _, rec := range records {
		row := make([]interface{}, len(w.columns))
		for i, c := range w.columns {
			row[i] = w.formatter.Cell(Lookup(rec, c.Field))
		}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) writeRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

// Records is the number of data rows written so far.
func (w *Workbook) Records() int {
	return w.row - 2
}

func (w *Workbook) finish() error {
	if w.flushed {
		return nil
	}
	if err := w.sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush workbook: %w", err)
	}
	w.flushed = true
	if w.template == TemplateAdvanced && w.Records() > 0 {
		last, err := excelize.CoordinatesToCellName(len(w.columns), w.row-1)
		if err != nil {
			return err
		}
		if err := w.file.AutoFilter(sheetName, "A1:"+last, nil); err != nil {
			return fmt.Errorf("failed to add autofilter: %w", err)
		}
	}
	return nil
}

// WriteTo finishes the workbook and writes the xlsx bytes to out. No rows
// can be appended afterwards.
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	if err := w.finish(); err != nil {
		return 0, err
	}
	return w.file.WriteTo(out)
}

// Close releases the temporary files of the stream writer.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Fill drains cursor into the workbook. onChunk, when set, is called with
// the size of every appended chunk.
func (w *Workbook) Fill(ctx context.Context, cursor *stream.Cursor, onChunk func(n int) error) error {
	return cursor.Each(ctx, func(b stream.Batch) error {
		if err := w.Append(b.Records); err != nil {
			return err
		}
		if onChunk != nil {
			return onChunk(len(b.Records))
		}
		return nil
	})
}
