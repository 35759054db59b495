package service

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"moderation-pipeline/internal/entity"
)

// BackupRepository is the full-scan port the snapshotter needs.
type BackupRepository interface {
	ListAll(ctx context.Context) ([]entity.Job, error)
}

// Snapshotter periodically dumps the full job table to a JSON file.
// Best-effort recovery aid, not a consistency mechanism: failures are
// logged and the next tick tries again.
type Snapshotter struct {
	repo     BackupRepository
	path     string
	interval time.Duration
	log      *zap.Logger
}

func NewSnapshotter(repo BackupRepository, path string, interval time.Duration, log *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Snapshotter{repo: repo, path: path, interval: interval, log: log}
}

func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(ctx); err != nil {
				s.log.Warn("backup snapshot failed", zap.Error(err))
			}
		}
	}
}

func (s *Snapshotter) Snapshot(ctx context.Context) error {
	jobs, err := s.repo.ListAll(ctx)
	if err != nil {
		return errors.Wrap(err, "scan jobs for backup")
	}

	data, err := json.Marshal(jobs)
	if err != nil {
		return errors.Wrap(err, "encode backup")
	}

	// write-then-rename so a crash mid-write never clobbers the
	// previous snapshot
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write backup")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace backup")
	}

	s.log.Info("backup snapshot written",
		zap.String("file", s.path),
		zap.Int("count", len(jobs)))
	return nil
}
