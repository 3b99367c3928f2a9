package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
)

// Store is the in-process twin of the Redis store: a mutex-guarded map with
// the same guarded-transition semantics. Terminal records are evicted by
// ExpireTerminal once they are older than the retention window; Run drives
// that sweep on a ticker. Used by tests and single-process setups.
type Store struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*entity.Job
	retention time.Duration
}

func New(retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		jobs:      make(map[uuid.UUID]*entity.Job),
		retention: retention,
	}
}

// Run sweeps expired terminal records until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireTerminal(time.Now().UTC())
		}
	}
}

// ExpireTerminal removes records whose terminal timestamp is older than the
// retention window and returns how many were evicted.
func (s *Store) ExpireTerminal(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.FinishedAt != nil && now.Sub(*j.FinishedAt) > s.retention {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Store) Create(_ context.Context, input json.RawMessage) (uuid.UUID, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.jobs[id] = &entity.Job{
		ID:          id,
		Status:      entity.StatusQueued,
		Input:       append(json.RawMessage(nil), input...),
		SubmittedAt: time.Now().UTC(),
	}
	return id, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) MarkRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !j.Status.CanTransitionTo(entity.StatusRunning) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, j.Status, entity.StatusRunning)
	}
	now := time.Now().UTC()
	j.Status = entity.StatusRunning
	j.StartedAt = &now
	j.Progress = 0
	return nil
}

func (s *Store) SetProgress(_ context.Context, id uuid.UUID, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != entity.StatusRunning {
		return fmt.Errorf("%w: progress on %s job", repository.ErrInvalidTransition, j.Status)
	}
	if progress > j.Progress {
		if progress > 100 {
			progress = 100
		}
		j.Progress = progress
	}
	j.Step = step
	return nil
}

func (s *Store) MarkSucceeded(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !j.Status.CanTransitionTo(entity.StatusSucceeded) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, j.Status, entity.StatusSucceeded)
	}
	now := time.Now().UTC()
	j.Status = entity.StatusSucceeded
	j.Result = append(json.RawMessage(nil), result...)
	j.Progress = 100
	j.Step = ""
	j.FinishedAt = &now
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, message, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !j.Status.CanTransitionTo(entity.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, j.Status, entity.StatusFailed)
	}
	now := time.Now().UTC()
	j.Status = entity.StatusFailed
	j.Error = &entity.JobError{Message: message, Detail: detail}
	j.Step = ""
	j.FinishedAt = &now
	return nil
}

func (s *Store) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !j.Status.CanTransitionTo(entity.StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, j.Status, entity.StatusCancelled)
	}
	now := time.Now().UTC()
	j.Status = entity.StatusCancelled
	j.Step = ""
	j.FinishedAt = &now
	return nil
}

func (s *Store) RequestCancel(_ context.Context, id uuid.UUID) (entity.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	switch j.Status {
	case entity.StatusCancelled:
		return entity.StatusCancelled, nil
	case entity.StatusSucceeded, entity.StatusFailed:
		return j.Status, repository.ErrNotCancellable
	case entity.StatusQueued:
		now := time.Now().UTC()
		j.Status = entity.StatusCancelled
		j.FinishedAt = &now
		return entity.StatusCancelled, nil
	default: // running
		j.CancelRequested = true
		return entity.StatusRunning, nil
	}
}

func (s *Store) CancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	return j.CancelRequested, nil
}

func (s *Store) Ping(context.Context) error { return nil }
