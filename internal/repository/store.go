package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"pharmyrus/internal/entity"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition means a caller asked the store to move a record
	// where the state machine forbids. Terminal states are absorbing, so
	// this is a store-consistency or ownership bug, never a user error.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotCancellable: cancel requested on a job that already succeeded
	// or failed. Cancelling an already-cancelled job is not an error.
	ErrNotCancellable = errors.New("job is not cancellable")
)

// JobStore is the shared state every process (API, workers) reads and
// writes. Each mutation is a guarded transition: the store checks the
// current status atomically and rejects moves the state machine forbids.
// The owning worker is the only writer while a job runs; everyone else
// only reads, except RequestCancel.
type JobStore interface {
	// Create inserts a queued record with the given opaque input and
	// returns its id.
	Create(ctx context.Context, input json.RawMessage) (uuid.UUID, error)

	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// MarkRunning moves queued -> running, sets started_at and progress 0.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// SetProgress updates progress/step on a running job. Progress is
	// clamped so observers never see it decrease.
	SetProgress(ctx context.Context, id uuid.UUID, progress int, step string) error

	// MarkSucceeded moves running -> succeeded, stores the result verbatim
	// and forces progress to 100. Terminal transitions clear the
	// running-only step label.
	MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// MarkFailed moves running -> failed. Detail is the diagnostic trace;
	// it is stored but never shown to callers.
	MarkFailed(ctx context.Context, id uuid.UUID, message, detail string) error

	// MarkCancelled moves queued|running -> cancelled.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// RequestCancel is the API side of cancellation: a queued job is
	// cancelled on the spot, a running job gets its cancel flag set for the
	// worker to observe at the next checkpoint, an already-cancelled job is
	// a no-op. Succeeded/failed jobs return ErrNotCancellable. The returned
	// status is the job's status after the call.
	RequestCancel(ctx context.Context, id uuid.UUID) (entity.JobStatus, error)

	// CancelRequested reports whether cancellation has been requested for a
	// running job.
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// Ping reports store reachability, for health checks.
	Ping(ctx context.Context) error
}
