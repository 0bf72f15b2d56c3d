/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
)

// Message carries everything a worker needs to rebuild an export. Columns
// is nil when the entity defaults apply.
type Message struct {
	JobUUID       uuid.UUID             `json:"job_uuid"`
	Entity        string                `json:"entity"`
	Filters       filters.Set           `json:"filters"`
	FileName      string                `json:"file_name"`
	Template      string                `json:"template"`
	Columns       []entities.ColumnSpec `json:"columns"`
	SortField     string                `json:"sort_field"`
	SortDirection string                `json:"sort_direction"`
	Relations     []string              `json:"relations"`
	Owner         entities.Owner        `json:"owner"`
	RequestID     string                `json:"request_id,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode job message: %w", err)
	}
	if m.JobUUID == uuid.Nil {
		return Message{}, fmt.Errorf("job message has no job uuid")
	}
	return m, nil
}

// Queue accepts export jobs for background processing. Enqueue returns as
// soon as the message is handed over; it never waits for the job.
type Queue interface {
	Enqueue(ctx context.Context, m Message) error
}

// Source hands queued messages to a worker.
type Source interface {
	Receive(ctx context.Context) (Message, error)
}

// ErrQueueFull is returned by MemoryQueue.Enqueue when every slot is taken.
var ErrQueueFull = stderrors.New("export queue is full")

// MemoryQueue is an in-process queue used by the sync connection and tests.
type MemoryQueue struct {
	ch chan Message
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan Message, size)}
}

// Enqueue never waits for a free slot.
func (q *MemoryQueue) Enqueue(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
