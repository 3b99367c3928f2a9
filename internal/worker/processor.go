package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
	"pharmyrus/internal/search"
)

// Processor runs one claimed job end to end: claim the record, execute the
// search in an isolated goroutine, map the outcome onto a terminal status.
// A job can fail, panic or overrun; the processor itself never does.
type Processor struct {
	store     repository.JobStore
	search    search.Func
	softLimit time.Duration
	hardLimit time.Duration
}

func NewProcessor(store repository.JobStore, searchFn search.Func, softLimit, hardLimit time.Duration) *Processor {
	if hardLimit <= 0 {
		hardLimit = 60 * time.Minute
	}
	if softLimit <= 0 || softLimit >= hardLimit {
		softLimit = hardLimit - 5*time.Minute
	}
	return &Processor{
		store:     store,
		search:    searchFn,
		softLimit: softLimit,
		hardLimit: hardLimit,
	}
}

type outcome struct {
	result json.RawMessage
	err    error
	stack  string
}

func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Printf("[worker] job_id=%s parse_error=%v", jobID, err)
		return err
	}

	job, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("[worker] job_id=%s skipped: record expired or unknown", id)
			return nil
		}
		return err
	}

	// Cancelled while queued, or a stale-requeue duplicate of a job that
	// already finished or is still owned by another worker: nothing to run.
	if job.Status != entity.StatusQueued {
		log.Printf("[worker] job_id=%s skipped status=%s", id, job.Status)
		return nil
	}

	if err := p.store.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Printf("[worker] job_id=%s CLAIM REFUSED error=%v", id, err)
			return nil
		}
		return err
	}

	log.Printf("[worker] job_id=%s status=running soft_limit=%s hard_limit=%s", id, p.softLimit, p.hardLimit)

	runCtx, cancel := context.WithTimeout(ctx, p.hardLimit)
	defer cancel()

	var softExpired atomic.Bool
	softTimer := time.AfterFunc(p.softLimit, func() { softExpired.Store(true) })
	defer softTimer.Stop()

	rep := newReporter(p.store, id, &softExpired)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{
					err:   fmt.Errorf("search panic: %v", r),
					stack: string(debug.Stack()),
				}
			}
		}()
		res, err := p.search(runCtx, job.Input, rep.Report)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Worker shutdown, not a job timeout. Fail the record so it
			// does not sit in running forever.
			msg := "interrupted by worker shutdown"
			if err := p.store.MarkFailed(context.WithoutCancel(ctx), id, msg, ctx.Err().Error()); err != nil {
				log.Printf("[worker] job_id=%s mark_failed error=%v", id, err)
			}
			return ctx.Err()
		}
		// Hard wall-clock ceiling: tear the job down, abandon the
		// goroutine. runCtx is cancelled, so a ctx-aware search stops too.
		msg := fmt.Sprintf("search exceeded hard time limit of %s", p.hardLimit)
		if err := p.store.MarkFailed(ctx, id, msg, runCtx.Err().Error()); err != nil {
			log.Printf("[worker] job_id=%s mark_failed error=%v", id, err)
		}
		log.Printf("[worker] job_id=%s status=failed reason=hard_timeout duration_ms=%d", id, time.Since(start).Milliseconds())
		return errors.New(msg)

	case out := <-done:
		// A ctx-aware search can return DeadlineExceeded and win the
		// select against runCtx.Done(); remember which limit it was.
		hardExpired := runCtx.Err() != nil && ctx.Err() == nil
		return p.finish(ctx, id, out, start, hardExpired)
	}
}

func (p *Processor) finish(ctx context.Context, id uuid.UUID, out outcome, start time.Time, hardExpired bool) error {
	dur := time.Since(start).Milliseconds()

	switch {
	case out.err == nil:
		if err := p.store.MarkSucceeded(ctx, id, out.result); err != nil {
			log.Printf("[worker] job_id=%s mark_succeeded error=%v", id, err)
			return err
		}
		log.Printf("[worker] job_id=%s status=succeeded duration_ms=%d", id, dur)
		return nil

	case errors.Is(out.err, ErrCancelled):
		if err := p.store.MarkCancelled(ctx, id); err != nil {
			log.Printf("[worker] job_id=%s mark_cancelled error=%v", id, err)
			return err
		}
		log.Printf("[worker] job_id=%s status=cancelled duration_ms=%d", id, dur)
		return nil

	case errors.Is(out.err, ErrSoftTimeLimit), errors.Is(out.err, context.DeadlineExceeded):
		msg := fmt.Sprintf("search exceeded soft time limit of %s", p.softLimit)
		reason := "soft_timeout"
		if hardExpired && !errors.Is(out.err, ErrSoftTimeLimit) {
			msg = fmt.Sprintf("search exceeded hard time limit of %s", p.hardLimit)
			reason = "hard_timeout"
		}
		if err := p.store.MarkFailed(ctx, id, msg, out.err.Error()); err != nil {
			log.Printf("[worker] job_id=%s mark_failed error=%v", id, err)
			return err
		}
		log.Printf("[worker] job_id=%s status=failed reason=%s duration_ms=%d", id, reason, dur)
		return out.err

	default:
		detail := out.stack
		if detail == "" {
			detail = fmt.Sprintf("%+v", out.err)
		}
		if err := p.store.MarkFailed(ctx, id, out.err.Error(), detail); err != nil {
			log.Printf("[worker] job_id=%s mark_failed error=%v", id, err)
			return err
		}
		log.Printf("[worker] job_id=%s status=failed duration_ms=%d error=%s", id, dur, out.err)
		return out.err
	}
}
