package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"moderation-pipeline/internal/classifier"
	"moderation-pipeline/internal/repository/postgresql"
	"moderation-pipeline/internal/service"
	"moderation-pipeline/internal/worker"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("REDIS_QUEUE_KEY", "moderation:queue")
	v.SetDefault("REDIS_PROCESSING_KEY", "moderation:processing")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("WORKER_ID", hostnameOr("worker"))
	v.SetDefault("HEALTH_ADDR", ":8081")
	v.SetDefault("SCORING_TIMEOUT", "3s")
	v.SetDefault("REQUEUE_INTERVAL", "30s")
	v.SetDefault("REQUEUE_BATCH", 100)

	pgDSN := mustGet(v, "POSTGRES_DSN", log)
	redisAddr := mustGet(v, "REDIS_ADDR", log)
	scoringURL := mustGet(v, "SCORING_URL", log)

	pgPool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer pgPool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	queue := service.NewRedisWorkQueue(rdb,
		v.GetString("REDIS_QUEUE_KEY"),
		v.GetString("REDIS_PROCESSING_KEY"),
		log)
	defer func() { _ = queue.Close() }()

	// reaper: anything claimed but never acked goes back on the queue
	go func() {
		ticker := time.NewTicker(v.GetDuration("REQUEUE_INTERVAL"))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, v.GetInt64("REQUEUE_BATCH"))
				if err != nil {
					log.Warn("requeue failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("requeued in-flight jobs", zap.Int64("count", n))
				}
			}
		}
	}()

	scorer := classifier.NewScoringClient(
		scoringURL,
		v.GetString("SCORING_API_KEY"),
		v.GetDuration("SCORING_TIMEOUT"))
	cls := classifier.New(splitList(v.GetString("DENY_LIST")), scorer)

	repo := postgresql.NewJobRepository(pgPool)
	processor := worker.NewProcessor(repo, cls, log)

	workerID := v.GetString("WORKER_ID")
	pool := worker.NewPool(queue, processor, v.GetInt("WORKERS"), workerID, log)

	healthSrv := &http.Server{
		Addr:    v.GetString("HEALTH_ADDR"),
		Handler: worker.HealthRoutes(workerID, pool),
	}
	go func() {
		log.Info("health endpoint listening", zap.String("address", healthSrv.Addr))
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server", zap.Error(err))
		}
	}()

	log.Info("worker started",
		zap.String("worker_id", workerID),
		zap.Int("workers", v.GetInt("WORKERS")))

	pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker stopped")
}

func mustGet(v *viper.Viper, key string, log *zap.Logger) string {
	val := v.GetString(key)
	if val == "" {
		log.Fatal("missing required config", zap.String("key", key))
	}
	return val
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
