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

	_ "moderation-pipeline/docs"
	"moderation-pipeline/internal/monitor"
	"moderation-pipeline/internal/repository/postgresql"
	"moderation-pipeline/internal/service"
	httptransport "moderation-pipeline/internal/transport/http"
)

// @title Moderation Pipeline API
// @version 1.0
// @description Ingestion and query API for the content moderation job pipeline.
// @BasePath /
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
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_QUEUE_KEY", "moderation:queue")
	v.SetDefault("REDIS_PROCESSING_KEY", "moderation:processing")
	v.SetDefault("PROBE_TIMEOUT", "1s")
	v.SetDefault("BACKUP_PATH", "moderation-backup.json")
	v.SetDefault("BACKUP_INTERVAL", "10m")

	pgDSN := mustGet(v, "POSTGRES_DSN", log)
	redisAddr := mustGet(v, "REDIS_ADDR", log)

	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	queue := service.NewRedisWorkQueue(rdb,
		v.GetString("REDIS_QUEUE_KEY"),
		v.GetString("REDIS_PROCESSING_KEY"),
		log)
	defer func() { _ = queue.Close() }()

	repo := postgresql.NewJobRepository(pool)
	jobSvc := service.NewJobService(repo, queue, log)
	reportSvc := service.NewReportService(repo)

	fleet := monitor.New(
		splitList(v.GetString("WORKER_ADDRS")),
		queue,
		v.GetDuration("PROBE_TIMEOUT"),
		log)

	snapshotter := service.NewSnapshotter(repo,
		v.GetString("BACKUP_PATH"),
		v.GetDuration("BACKUP_INTERVAL"),
		log)
	go snapshotter.Run(ctx)

	handler := httptransport.NewHandler(jobSvc, reportSvc, fleet)
	srv := &http.Server{
		Addr:    v.GetString("HTTP_ADDR"),
		Handler: httptransport.Routes(handler, log),
	}

	go func() {
		log.Info("api listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}

	log.Info("api stopped")
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
	out := make([]string, 0, 4)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
