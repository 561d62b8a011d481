package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lupohub/lupohub/internal/models"
	"github.com/rs/zerolog/log"
)

// HandlerFunc processes one job payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Recorder persists job state transitions so failures stay observable.
type Recorder interface {
	Record(ctx context.Context, job Job, status models.SyncJobStatus, lastErr string) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool runs a fixed number of goroutines consuming a Queue.
type Pool struct {
	queue       Queue
	recorder    Recorder
	handlers    map[string]HandlerFunc
	size        int
	maxAttempts int
	pollEvery   time.Duration
	backoff     func(attempt int) time.Duration

	wg      sync.WaitGroup
	retries sync.WaitGroup
}

// NewPool creates a pool. maxAttempts counts the first run.
func NewPool(queue Queue, recorder Recorder, size, maxAttempts int) *Pool {
	if size <= 0 {
		size = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Pool{
		queue:       queue,
		recorder:    recorder,
		handlers:    make(map[string]HandlerFunc),
		size:        size,
		maxAttempts: maxAttempts,
		pollEvery:   5 * time.Second,
		backoff:     exponentialBackoff,
	}
}

// exponentialBackoff waits 2s, 4s, 8s, ... capped at one minute.
func exponentialBackoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// Handle registers fn for jobs of jobType. Call before Start.
func (p *Pool) Handle(jobType string, fn HandlerFunc) {
	p.handlers[jobType] = fn
}

// Submit records and enqueues a new job, returning its id.
func (p *Pool) Submit(ctx context.Context, jobType string, payload any) (string, error) {
	job, err := NewJob(jobType, payload)
	if err != nil {
		return "", fmt.Errorf("worker: encode %s: %w", jobType, err)
	}
	p.record(ctx, job, models.SyncJobPending, "")
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.record(ctx, job, models.SyncJobFailed, err.Error())
		return "", fmt.Errorf("worker: enqueue %s: %w", jobType, err)
	}
	return job.ID, nil
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Info().Int("workers", p.size).Int("max_attempts", p.maxAttempts).Msg("worker pool started")
}

// Wait blocks until every worker and pending retry timer returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.retries.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		}
		job, ok, err := p.queue.Dequeue(ctx, p.pollEvery)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Int("worker", id).Msg("dequeue failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if !ok {
			continue
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	job.Attempts++
	logger := log.With().Str("job_id", job.ID).Str("job_type", job.Type).Int("attempt", job.Attempts).Logger()

	handler, ok := p.handlers[job.Type]
	if !ok {
		logger.Error().Msg("no handler registered")
		p.fail(ctx, job, "no handler registered for job type")
		return
	}

	err := handler(ctx, job.Payload)
	if err == nil {
		p.record(ctx, job, models.SyncJobSuccess, "")
		logger.Debug().Msg("job done")
		return
	}

	if IsPermanent(err) || job.Attempts >= p.maxAttempts {
		logger.Warn().Err(err).Msg("job failed")
		p.fail(ctx, job, err.Error())
		return
	}

	logger.Warn().Err(err).Msg("job failed, will retry")
	p.record(ctx, job, models.SyncJobRetrying, err.Error())
	p.retry(ctx, job)
}

func (p *Pool) retry(ctx context.Context, job Job) {
	p.retries.Add(1)
	time.AfterFunc(p.backoff(job.Attempts), func() {
		defer p.retries.Done()
		if ctx.Err() != nil {
			p.fail(context.Background(), job, "shutdown before retry")
			return
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			p.fail(context.Background(), job, "re-enqueue: "+err.Error())
		}
	})
}

func (p *Pool) fail(ctx context.Context, job Job, reason string) {
	if err := p.queue.DeadLetter(ctx, job, reason); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("dead letter failed")
	}
	p.record(ctx, job, models.SyncJobFailed, reason)
}

func (p *Pool) record(ctx context.Context, job Job, status models.SyncJobStatus, lastErr string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, job, status, lastErr); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Str("status", string(status)).Msg("record job state")
	}
}
