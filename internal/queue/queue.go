// Package queue hands submitted jobs from the API to the pipeline workers
// through a Redis list, so submissions survive while all workers are busy.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const queueGenerateVideo = "queue:generate_video"

// Task is the unit handed to a pipeline worker: which job to run and the
// submission inputs that are not part of the persisted job record.
type Task struct {
	JobID       string    `json:"job_id"`
	Topic       string    `json:"topic"`
	ContextRefs []string  `json:"context_refs,omitempty"`
	Owner       *string   `json:"owner,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type Queue struct {
	client *redis.Client
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a generation task onto the queue.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	task.EnqueuedAt = time.Now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.client.RPush(ctx, queueGenerateVideo, data).Err()
}

// Dequeue blocks up to timeout for the next task. A nil task with a nil
// error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, queueGenerateVideo).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Length reports the number of queued tasks.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueGenerateVideo).Result()
}
