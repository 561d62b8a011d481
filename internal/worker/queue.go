package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("worker: queue full")

// Job is the envelope for every background task.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// NewJob encodes payload into a fresh job.
func NewJob(jobType string, payload any) (Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{ID: uuid.NewString(), Type: jobType, Payload: data}, nil
}

// Queue is a FIFO of jobs with a dead-letter side list.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue waits up to timeout. ok is false when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (job Job, ok bool, err error)
	DeadLetter(ctx context.Context, job Job, reason string) error
	DeadLetterLen(ctx context.Context) (int64, error)
}

// MemoryQueue is the in-process queue used when no Redis is configured.
// Jobs do not survive a restart.
type MemoryQueue struct {
	ch chan Job

	mu   sync.Mutex
	dead []DLQEntry
}

// NewMemoryQueue creates a queue buffering up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan Job, size)}
}

// Enqueue never waits for room; callers sit on request paths.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.ch:
		return job, true, nil
	case <-timer.C:
		return Job{}, false, nil
	case <-ctx.Done():
		return Job{}, false, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, newDLQEntry(QueueStockSync, job, reason))
	return nil
}

func (q *MemoryQueue) DeadLetterLen(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

// DeadLetters returns a copy of the dead-letter entries.
func (q *MemoryQueue) DeadLetters() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQEntry, len(q.dead))
	copy(out, q.dead)
	return out
}
