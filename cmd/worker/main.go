// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmyrus/internal/config"
	"pharmyrus/internal/repository/redisstore"
	"pharmyrus/internal/search"
	"pharmyrus/internal/service"
	"pharmyrus/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	store := redisstore.New(rdb, cfg.JobKeyPrefix, cfg.ResultRetention)
	queue := service.NewRedisQueue(rdb, cfg.QueueKey, cfg.ProcessingKey)
	searchFn := search.NewPlaceholder(cfg.SearchStageDelay)

	// Reaper: returns ids from processing back to the queue when a worker
	// died mid-claim. Jobs that already reached a terminal state are
	// filtered out again at pickup.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, 100)
				if err != nil {
					log.Printf("requeue error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("requeued %d jobs from processing", n)
				}
			}
		}
	}()

	processor := worker.NewProcessor(store, searchFn, cfg.SoftTimeLimit, cfg.HardTimeLimit)
	pool := worker.NewPool(queue, processor, cfg.Workers, cfg.MaxJobsPerWorker)

	log.Printf("[worker] config workers=%d max_jobs_per_worker=%d redis_addr=%s queue_key=%s soft_limit=%s hard_limit=%s retention=%s",
		cfg.Workers, cfg.MaxJobsPerWorker, cfg.RedisAddr, cfg.QueueKey,
		cfg.SoftTimeLimit, cfg.HardTimeLimit, cfg.ResultRetention,
	)

	pool.Run(ctx)

	_ = rdb.Close()
	log.Println("worker stopped")
}
