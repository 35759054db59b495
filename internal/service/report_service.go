package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/repository/postgresql"
)

// ReportRepository is the read-only aggregation port. Reporting never
// mutates pipeline state.
type ReportRepository interface {
	CountsByStatus(ctx context.Context) (map[entity.JobStatus]int64, error)
	WorkerThroughput(ctx context.Context) ([]postgresql.WorkerThroughput, error)
	CategoryCounts(ctx context.Context) ([]postgresql.CategoryCount, error)
	HourlyCounts(ctx context.Context, since time.Time) ([]postgresql.TimeBucket, error)
}

type Stats struct {
	GeneratedAt   time.Time                     `json:"generated_at"`
	Total         int64                         `json:"total"`
	ByStatus      map[entity.JobStatus]int64    `json:"by_status"`
	ByWorker      []postgresql.WorkerThroughput `json:"by_worker"`
	ByCategory    []postgresql.CategoryCount    `json:"by_category"`
	HourlyVolume  []postgresql.TimeBucket       `json:"hourly_volume"`
	VolumeWindowH int                           `json:"volume_window_hours"`
}

type ReportService struct {
	repo         ReportRepository
	volumeWindow time.Duration
}

func NewReportService(repo ReportRepository) *ReportService {
	return &ReportService{repo: repo, volumeWindow: 24 * time.Hour}
}

func (s *ReportService) Overview(ctx context.Context) (*Stats, error) {
	byStatus, err := s.repo.CountsByStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "status counts")
	}

	byWorker, err := s.repo.WorkerThroughput(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "worker throughput")
	}

	byCategory, err := s.repo.CategoryCounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "category counts")
	}

	since := time.Now().UTC().Add(-s.volumeWindow)
	hourly, err := s.repo.HourlyCounts(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "hourly counts")
	}

	var total int64
	for _, n := range byStatus {
		total += n
	}

	return &Stats{
		GeneratedAt:   time.Now().UTC(),
		Total:         total,
		ByStatus:      byStatus,
		ByWorker:      byWorker,
		ByCategory:    byCategory,
		HourlyVolume:  hourly,
		VolumeWindowH: int(s.volumeWindow / time.Hour),
	}, nil
}
