package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
)

// Narrow queue port for the dispatcher side: it only ever enqueues.
// (Claim/Ack belong to the worker; see queue_service.go.)
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// NotReadyError is returned by Result before the job has succeeded. It
// carries the current status so the API can echo it back to the poller.
type NotReadyError struct {
	Status entity.JobStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("result not ready: job is %s", e.Status)
}

// JobService is the dispatcher: it accepts work, hands it to the queue and
// serves read-only projections of the store. It never touches the search
// itself, so every call here returns with bounded latency.
type JobService struct {
	store repository.JobStore
	queue JobQueue
}

func NewJobService(store repository.JobStore, queue JobQueue) *JobService {
	return &JobService{store: store, queue: queue}
}

// Submit creates a queued record for the opaque input and schedules exactly
// one execution attempt. It returns as soon as the id is on the queue,
// without waiting for a worker to pick the job up.
func (s *JobService) Submit(ctx context.Context, input json.RawMessage) (uuid.UUID, error) {
	id, err := s.store.Create(ctx, input)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		// The record would sit queued forever with nothing to claim it.
		_, _ = s.store.RequestCancel(ctx, id)
		return uuid.Nil, fmt.Errorf("enqueue job %s: %w", id, err)
	}

	return id, nil
}

// Status returns the current record; repository.ErrNotFound once the id is
// unknown or past retention.
func (s *JobService) Status(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.store.Get(ctx, id)
}

// Result returns the stored payload verbatim, or *NotReadyError with the
// current status for any non-succeeded job.
func (s *JobService) Result(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != entity.StatusSucceeded {
		return nil, &NotReadyError{Status: j.Status}
	}
	return j.Result, nil
}

// Cancel requests best-effort cancellation and returns the resulting
// status: cancelled right away for queued jobs, running for jobs that will
// stop at their next checkpoint. Idempotent; repository.ErrNotCancellable
// for jobs that already succeeded or failed.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	return s.store.RequestCancel(ctx, id)
}

// Ping reports store reachability for the health endpoint.
func (s *JobService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
