package pipeline

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brightboard/videoforge/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// Worker consumes submitted tasks from the queue and runs each job on its
// own goroutine, bounded by a weighted semaphore.
type Worker struct {
	queue   *queue.Queue
	orch    *Orchestrator
	maxJobs int64
	sem     *semaphore.Weighted
}

func NewWorker(q *queue.Queue, orch *Orchestrator, maxConcurrentJobs int) *Worker {
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}
	return &Worker{
		queue:   q,
		orch:    orch,
		maxJobs: int64(maxConcurrentJobs),
		sem:     semaphore.NewWeighted(int64(maxConcurrentJobs)),
	}
}

// Start blocks until ctx is cancelled, then waits for in-flight jobs to
// finish before returning.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[Worker] started (max %d concurrent jobs)", w.maxJobs)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		default:
			task, err := w.queue.Dequeue(ctx, dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					w.drain()
					return
				}
				log.Printf("[Worker] dequeue error: %v", err)
				time.Sleep(time.Second)
				continue
			}
			if task == nil {
				continue
			}

			if err := w.sem.Acquire(ctx, 1); err != nil {
				w.drain()
				return
			}
			go func(task *queue.Task) {
				defer w.sem.Release(1)
				// Jobs in flight run to a terminal state even during
				// shutdown; cancellation mid-job would leave the record
				// stuck in a non-terminal status.
				w.orch.Process(context.Background(), task)
			}(task)
		}
	}
}

// drain waits for every in-flight job by acquiring the full semaphore.
func (w *Worker) drain() {
	log.Println("[Worker] shutting down, waiting for in-flight jobs...")
	if err := w.sem.Acquire(context.Background(), w.maxJobs); err == nil {
		w.sem.Release(w.maxJobs)
	}
	log.Println("[Worker] stopped")
}
