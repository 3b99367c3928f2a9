// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "pharmyrus/docs"
	"pharmyrus/internal/config"
	"pharmyrus/internal/repository/redisstore"
	"pharmyrus/internal/search"
	"pharmyrus/internal/service"
	httptransport "pharmyrus/internal/transport/http"
)

// @title Pharmyrus Patent Search API
// @version 1.0
// @description Asynchronous pharmaceutical patent search jobs: submit, poll, fetch, cancel.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The API can still answer /health as degraded; async submits
		// will fail until Redis is back.
		log.Printf("redis ping failed: %v", err)
	} else {
		log.Printf("redis connected: %s", cfg.RedisAddr)
	}

	store := redisstore.New(rdb, cfg.JobKeyPrefix, cfg.ResultRetention)
	queue := service.NewRedisQueue(rdb, cfg.QueueKey, cfg.ProcessingKey)
	jobSvc := service.NewJobService(store, queue)
	searchFn := search.NewPlaceholder(cfg.SearchStageDelay)

	h := httptransport.NewHandler(jobSvc, searchFn, version())
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httptransport.Routes(h),
	}

	go func() {
		log.Printf("[api] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	_ = rdb.Close()

	log.Println("api stopped")
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
