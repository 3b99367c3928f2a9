package memorystore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
	"pharmyrus/internal/repository/memorystore"
)

func TestStore_Lifecycle_QueuedToSucceeded(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, err := s.Create(ctx, json.RawMessage(`{"molecule":"aspirin"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != entity.StatusQueued {
		t.Fatalf("expected queued, got %s", j.Status)
	}
	if j.StartedAt != nil {
		t.Fatalf("expected nil started_at before running")
	}

	if err := s.MarkRunning(ctx, id); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := s.SetProgress(ctx, id, 50, "Searching INPI..."); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if err := s.MarkSucceeded(ctx, id, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	j, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != entity.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", j.Status)
	}
	if j.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", j.Progress)
	}
	if string(j.Result) != `{"ok":true}` {
		t.Fatalf("expected result stored verbatim, got %s", j.Result)
	}
	if j.Error != nil {
		t.Fatalf("succeeded job must not carry an error, got %+v", j.Error)
	}
	if j.Step != "" {
		t.Fatalf("step is a running-only field, got %q on terminal job", j.Step)
	}
	if j.FinishedAt == nil {
		t.Fatalf("expected finished_at on terminal job")
	}
}

func TestStore_TerminalStatesAreAbsorbing(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, id)
	_ = s.MarkFailed(ctx, id, "boom", "trace")

	for _, err := range []error{
		s.MarkRunning(ctx, id),
		s.MarkSucceeded(ctx, id, nil),
		s.MarkCancelled(ctx, id),
		s.SetProgress(ctx, id, 99, "late"),
	} {
		if !errors.Is(err, repository.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition on terminal job, got %v", err)
		}
	}

	j, _ := s.Get(ctx, id)
	if j.Status != entity.StatusFailed {
		t.Fatalf("terminal status changed to %s", j.Status)
	}
	if j.Error == nil || j.Error.Message != "boom" {
		t.Fatalf("expected error message preserved, got %+v", j.Error)
	}
}

func TestStore_StepClearedOnEveryTerminalTransition(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	finish := map[string]func(id uuid.UUID) error{
		"succeeded": func(id uuid.UUID) error { return s.MarkSucceeded(ctx, id, nil) },
		"failed":    func(id uuid.UUID) error { return s.MarkFailed(ctx, id, "boom", "") },
		"cancelled": func(id uuid.UUID) error { return s.MarkCancelled(ctx, id) },
	}

	for name, mark := range finish {
		id, _ := s.Create(ctx, nil)
		_ = s.MarkRunning(ctx, id)
		_ = s.SetProgress(ctx, id, 50, "Searching INPI...")

		if err := mark(id); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		j, _ := s.Get(ctx, id)
		if j.Step != "" {
			t.Fatalf("%s: step must be cleared on terminal transition, got %q", name, j.Step)
		}
	}
}

func TestStore_ProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, id)

	_ = s.SetProgress(ctx, id, 60, "step a")
	_ = s.SetProgress(ctx, id, 30, "step b") // regression: clamped

	j, _ := s.Get(ctx, id)
	if j.Progress != 60 {
		t.Fatalf("expected progress clamped at 60, got %d", j.Progress)
	}
	if j.Step != "step b" {
		t.Fatalf("expected latest step label, got %q", j.Step)
	}

	_ = s.SetProgress(ctx, id, 250, "step c")
	j, _ = s.Get(ctx, id)
	if j.Progress != 100 {
		t.Fatalf("expected progress capped at 100, got %d", j.Progress)
	}
}

func TestStore_RequestCancel_QueuedIsImmediate(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, _ := s.Create(ctx, nil)

	status, err := s.RequestCancel(ctx, id)
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", status)
	}

	// A cancelled job can never start.
	if err := s.MarkRunning(ctx, id); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition starting a cancelled job, got %v", err)
	}

	// Idempotent: second cancel is the same outcome, not an error.
	status, err = s.RequestCancel(ctx, id)
	if err != nil || status != entity.StatusCancelled {
		t.Fatalf("expected idempotent cancel, got status=%s err=%v", status, err)
	}
}

func TestStore_RequestCancel_RunningSetsFlag(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, id)

	status, err := s.RequestCancel(ctx, id)
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if status != entity.StatusRunning {
		t.Fatalf("expected running (flagged), got %s", status)
	}

	flagged, err := s.CancelRequested(ctx, id)
	if err != nil || !flagged {
		t.Fatalf("expected cancel flag set, got %v err=%v", flagged, err)
	}

	// Worker observes the flag at a checkpoint and finishes the move.
	if err := s.MarkCancelled(ctx, id); err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
}

func TestStore_RequestCancel_TerminalRefused(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(time.Hour)

	id, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, id)
	_ = s.MarkSucceeded(ctx, id, nil)

	status, err := s.RequestCancel(ctx, id)
	if !errors.Is(err, repository.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if status != entity.StatusSucceeded {
		t.Fatalf("expected current status echoed, got %s", status)
	}
}

func TestStore_ExpireTerminal(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New(10 * time.Millisecond)

	done, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, done)
	_ = s.MarkSucceeded(ctx, done, nil)

	live, _ := s.Create(ctx, nil)
	_ = s.MarkRunning(ctx, live)

	// Not yet past retention: nothing evicted.
	if n := s.ExpireTerminal(time.Now().UTC()); n != 0 {
		t.Fatalf("expected no evictions before retention, got %d", n)
	}

	time.Sleep(20 * time.Millisecond)

	if n := s.ExpireTerminal(time.Now().UTC()); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}

	if _, err := s.Get(ctx, done); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after retention, got %v", err)
	}
	// Non-terminal records are never swept.
	if _, err := s.Get(ctx, live); err != nil {
		t.Fatalf("running job swept: %v", err)
	}
}
