package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository/memorystore"
	"pharmyrus/internal/search"
	"pharmyrus/internal/worker"
)

// chanQueue is an in-process stand-in for the Redis queue.
type chanQueue struct {
	ch chan string

	mu    sync.Mutex
	acked []string
}

func newChanQueue(size int) *chanQueue {
	return &chanQueue{ch: make(chan string, size)}
}

func (q *chanQueue) Enqueue(ctx context.Context, jobID string) error {
	q.ch <- jobID
	return nil
}

func (q *chanQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-t.C:
		return "", redis.Nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *chanQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *chanQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	return 0, nil
}

func (q *chanQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

// Drives the full claim -> process -> ack path, with slot retirement after
// every job so the respawn logic runs too.
func TestPool_ProcessesAllJobs(t *testing.T) {
	store := memorystore.New(time.Hour)
	queue := newChanQueue(16)

	searchFn := func(ctx context.Context, input json.RawMessage, report search.ProgressFunc) (json.RawMessage, error) {
		if err := report(90, "Building response..."); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"ok":true}`), nil
	}

	processor := worker.NewProcessor(store, searchFn, time.Minute, 2*time.Minute)
	pool := worker.NewPool(queue, processor, 2, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 5
	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		id, err := store.Create(ctx, json.RawMessage(`{"molecule":"aspirin"}`))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, id.String())
		_ = queue.Enqueue(ctx, id.String())
	}

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	deadline := time.After(5 * time.Second)
	for queue.ackCount() < jobs {
		select {
		case <-deadline:
			t.Fatalf("pool processed %d/%d jobs before timeout", queue.ackCount(), jobs)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-poolDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not stop after context cancellation")
	}

	for _, jobID := range ids {
		j := getJob(t, store, jobID)
		if j.Status != entity.StatusSucceeded {
			t.Fatalf("job %s: expected succeeded, got %s", jobID, j.Status)
		}
	}
}
