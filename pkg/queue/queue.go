// Package queue carries build jobs from the submission service to build
// workers over a Redis list.
//
// Producers LPUSH onto the queue. Each worker moves one record at a time
// into its own processing list with BLMOVE, which blocks without polling and
// hands a record to exactly one consumer. The record stays in the processing
// list until the worker acknowledges it at a terminal state; anything left
// there after a crash is put back on the queue by Recover when that worker
// starts again.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/splax/minivercel/pkg/build"
)

// Producer enqueues jobs.
type Producer interface {
	Enqueue(ctx context.Context, job build.Job) error
}

// Delivery is a job handed to a consumer together with its raw record, which
// identifies it for acknowledgement.
type Delivery struct {
	Job build.Job
	raw string
}

// Queue is the producer side.
type Queue struct {
	client redis.Cmdable
	name   string
}

// New returns a producer for the named list.
func New(client redis.Cmdable, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Enqueue appends the job at the tail of the FIFO.
func (q *Queue) Enqueue(ctx context.Context, job build.Job) error {
	raw, err := job.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Len reports the number of jobs waiting to be picked up.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Consumer is the worker side of the queue. One Consumer per worker loop.
type Consumer struct {
	client     redis.Cmdable
	name       string
	processing string
}

// NewConsumer returns a consumer whose in-flight records live in a list
// private to workerID.
func NewConsumer(client redis.Cmdable, name, workerID string) *Consumer {
	return &Consumer{
		client:     client,
		name:       name,
		processing: ProcessingList(name, workerID),
	}
}

// ProcessingList names the in-flight list of a worker.
func ProcessingList(name, workerID string) string {
	return name + ":processing:" + workerID
}

// Dequeue blocks until a job is available. A malformed record is acknowledged
// straight away and reported as build.ErrMalformedJob so it is never
// redelivered.
func (c *Consumer) Dequeue(ctx context.Context) (Delivery, error) {
	raw, err := c.client.BLMove(ctx, c.name, c.processing, "RIGHT", "LEFT", 0).Result()
	if err != nil {
		return Delivery{}, fmt.Errorf("dequeue job: %w", err)
	}
	job, err := build.DecodeJob(raw)
	if err != nil {
		if ackErr := c.ack(ctx, raw); ackErr != nil {
			return Delivery{}, errors.Join(err, ackErr)
		}
		return Delivery{}, err
	}
	return Delivery{Job: job, raw: raw}, nil
}

// Ack removes a delivered job from the processing list.
func (c *Consumer) Ack(ctx context.Context, d Delivery) error {
	return c.ack(ctx, d.raw)
}

func (c *Consumer) ack(ctx context.Context, raw string) error {
	if err := c.client.LRem(ctx, c.processing, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Recover moves every record left in this worker's processing list back to
// the consuming end of the queue and returns how many were moved.
func (c *Consumer) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := c.client.LMove(ctx, c.processing, c.name, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover jobs: %w", err)
		}
		moved++
	}
}
