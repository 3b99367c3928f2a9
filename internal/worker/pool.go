package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"pharmyrus/internal/service"
)

// Pool feeds claimed job ids to a fixed number of worker goroutines. Each
// slot runs at most one job at a time and retires after maxJobsPerWorker
// processed jobs; a fresh goroutine takes its place, bounding per-slot
// memory growth over long runs.
type Pool struct {
	queue            service.Queue
	processor        *Processor
	workers          int
	maxJobsPerWorker int
	claimDelay       time.Duration
}

func NewPool(queue service.Queue, processor *Processor, workers, maxJobsPerWorker int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:            queue,
		processor:        processor,
		workers:          workers,
		maxJobsPerWorker: maxJobsPerWorker,
		claimDelay:       5 * time.Second,
	}
}

func (p *Pool) Run(ctx context.Context) {
	log.Printf("worker pool started: workers=%d max_jobs_per_worker=%d", p.workers, p.maxJobsPerWorker)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	var spawn func(slot, gen int)
	spawn = func(slot, gen int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handled := 0
			for jobID := range jobCh {
				// Process records the terminal state itself; a returned
				// error is the pool-level failure signal, logged here.
				if err := p.processor.Process(ctx, jobID); err != nil {
					log.Printf("[worker-%d.%d] process job %s error: %v", slot, gen, jobID, err)
				}

				// Ack regardless: the record is terminal (or was skipped).
				// If the process crashed before that, the reaper requeues.
				if ackErr := p.queue.Ack(ctx, jobID); ackErr != nil {
					log.Printf("[worker-%d.%d] ack job %s error: %v", slot, gen, jobID, ackErr)
				}

				handled++
				if p.maxJobsPerWorker > 0 && handled >= p.maxJobsPerWorker {
					log.Printf("[worker-%d.%d] retiring after %d jobs", slot, gen, handled)
					spawn(slot, gen+1)
					return
				}
			}
		}()
	}

	for i := 0; i < p.workers; i++ {
		spawn(i+1, 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			log.Println("worker pool stopped")
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// timeout / redis.Nil / ctx cancel, nothing claimed
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				close(jobCh)
				wg.Wait()
				return
			}
		}
	}
}
