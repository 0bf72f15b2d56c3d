/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package stream

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"time"

	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/metrics"
	"github.com/redhatinsights/spreadsheet-export-service/query"
)

// Batch is one chunk of records. Records are pointers to model structs.
type Batch struct {
	Records []any
	// Offset of the first record within the whole export.
	Offset int
}

// Cursor reads a plan in fixed size chunks. It is not restartable: once it
// reports io.EOF or an error it keeps doing so.
type Cursor struct {
	db     *gorm.DB
	plan   *query.Plan
	chunk  int
	limit  int
	offset int
	done   bool
	err    error
}

// Open prepares a cursor over plan. A limit of zero or less streams every
// matched record. No query runs until the first Next.
func Open(db *gorm.DB, plan *query.Plan, chunkSize, limit int) *Cursor {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Cursor{db: db, plan: plan, chunk: chunkSize, limit: limit}
}

// Next fetches the next chunk. It returns io.EOF after the last record or
// once the limit is reached.
func (c *Cursor) Next(ctx context.Context) (Batch, error) {
	if c.err != nil {
		return Batch{}, c.err
	}
	if c.done {
		return Batch{}, io.EOF
	}

	size := c.chunk
	if c.limit > 0 && c.offset+size > c.limit {
		size = c.limit - c.offset
	}
	if size <= 0 {
		c.done = true
		return Batch{}, io.EOF
	}

	start := time.Now()
	dest := c.plan.Entity.NewBatch()
	err := c.plan.Query(c.db.WithContext(ctx)).
		Limit(size).
		Offset(c.offset).
		Find(dest).Error
	if err != nil {
		c.err = fmt.Errorf("failed to fetch records %d-%d of %s: %w", c.offset, c.offset+size, c.plan.Entity.Name, err)
		return Batch{}, c.err
	}

	rows := reflect.ValueOf(dest).Elem()
	n := rows.Len()
	metrics.ObserveChunk(c.plan.Entity.Name, n, time.Since(start).Seconds())
	if n == 0 {
		c.done = true
		return Batch{}, io.EOF
	}

	records := make([]any, n)
	for i := 0; i < n; i++ {
		records[i] = rows.Index(i).Addr().Interface()
	}
	batch := Batch{Records: records, Offset: c.offset}
	c.offset += n
	if n < size {
		c.done = true
	}
	return batch, nil
}

// Streamed is the number of records handed out so far.
func (c *Cursor) Streamed() int {
	return c.offset
}

// Each drains the cursor, calling fn once per chunk. The chunk is not
// referenced again after fn returns.
func (c *Cursor) Each(ctx context.Context, fn func(Batch) error) error {
	for {
		batch, err := c.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			c.err = err
			return err
		}
	}
}

// Count returns the number of records plan matches. Zero matches yield
// errors.ErrNoData.
func Count(ctx context.Context, db *gorm.DB, plan *query.Plan) (int, error) {
	n, err := plan.Count(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", plan.Entity.Name, err)
	}
	if n == 0 {
		return 0, errors.ErrNoData
	}
	return int(n), nil
}

// Capped is the number of records actually exported out of count matches.
func Capped(count, limit int) int {
	if limit > 0 && count > limit {
		return limit
	}
	return count
}
