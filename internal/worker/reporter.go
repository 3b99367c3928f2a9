package worker

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pharmyrus/internal/repository"
)

// Checkpoint signals handed to the computation through the reporter's
// return value. A cooperative computation propagates them unchanged.
var (
	ErrCancelled     = errors.New("job cancelled")
	ErrSoftTimeLimit = errors.New("soft time limit exceeded")
)

// reporter is the progress channel handed to a computation. Every Report
// call is a cooperative checkpoint: cancellation and the soft time limit
// are checked before the write. Store writes are bounded by a short
// timeout and their failures are logged, never surfaced to the caller.
type reporter struct {
	store        repository.JobStore
	jobID        uuid.UUID
	softExpired  *atomic.Bool
	writeTimeout time.Duration
	last         int
}

func newReporter(store repository.JobStore, jobID uuid.UUID, softExpired *atomic.Bool) *reporter {
	return &reporter{
		store:        store,
		jobID:        jobID,
		softExpired:  softExpired,
		writeTimeout: 3 * time.Second,
	}
}

func (r *reporter) Report(progress int, step string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	cancelled, err := r.store.CancelRequested(ctx, r.jobID)
	if err != nil {
		log.Printf("[worker] job_id=%s cancel_check error=%v", r.jobID, err)
	} else if cancelled {
		return ErrCancelled
	}

	if r.softExpired.Load() {
		return ErrSoftTimeLimit
	}

	// Clamp locally as well, so a regressing computation never even
	// reaches the store with a lower value.
	if progress < r.last {
		progress = r.last
	} else {
		r.last = progress
	}

	if err := r.store.SetProgress(ctx, r.jobID, progress, step); err != nil {
		log.Printf("[worker] job_id=%s set_progress error=%v", r.jobID, err)
	}
	return nil
}
