/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPollTimeout = 5 * time.Second

// RedisQueue is a list backed queue: producers LPUSH, workers BRPOP.
type RedisQueue struct {
	Client redis.UniversalClient
	Key    string
	Log    *zap.SugaredLogger
}

func NewRedisQueue(client redis.UniversalClient, name string, log *zap.SugaredLogger) *RedisQueue {
	return &RedisQueue{Client: client, Key: "queues:" + name, Log: log}
}

func (q *RedisQueue) Enqueue(ctx context.Context, m Message) error {
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	if err := q.Client.LPush(ctx, q.Key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job %s to %s: %w", m.JobUUID, q.Key, err)
	}
	q.Log.Debugw("enqueued export job", "job_uuid", m.JobUUID, "queue", q.Key)
	return nil
}

// Receive blocks until a message arrives or ctx ends.
func (q *RedisQueue) Receive(ctx context.Context) (Message, error) {
	for {
		res, err := q.Client.BRPop(ctx, redisPollTimeout, q.Key).Result()
		if stderrors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("failed to pop from %s: %w", q.Key, err)
		}
		// res is [key, value]
		return Decode([]byte(res[1]))
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.Client.LLen(ctx, q.Key).Result()
}
