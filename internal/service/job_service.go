package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/repository/postgresql"
)

// ErrNotReplayable is returned by Replay for jobs that already left
// pending. Re-queueing is an explicit operation for recovery only, not
// a way to re-run a decided job.
var ErrNotReplayable = errors.New("job is not pending")

// ValidationError rejects bad input at ingestion, before any state is
// created.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// JobRepository is the store port the ingestion service needs
// (implementation: postgresql.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, f postgresql.JobFilter) ([]entity.Job, error)
}

// JobPublisher is the narrow queue port for the publish side.
type JobPublisher interface {
	Publish(ctx context.Context, item entity.WorkItem) error
}

type JobService struct {
	repo  JobRepository
	queue JobPublisher
	log   *zap.Logger
}

func NewJobService(repo JobRepository, queue JobPublisher, log *zap.Logger) *JobService {
	return &JobService{repo: repo, queue: queue, log: log}
}

type SubmitRequest struct {
	Title     string
	Content   string
	Author    string
	Category  string
	ServerTag string
}

// Submit validates the request, persists the job as pending and hands
// it to the work queue. Persist comes first: if the queue is down the
// job stays pending with a warning and can be replayed later.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, &ValidationError{Field: "title"}
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Field: "content"}
	}
	if strings.TrimSpace(req.Author) == "" {
		return nil, &ValidationError{Field: "author"}
	}

	job := &entity.Job{
		ID:        uuid.New(),
		Title:     req.Title,
		Content:   req.Content,
		Author:    req.Author,
		Category:  req.Category,
		ServerTag: req.ServerTag,
		Status:    entity.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, errors.Wrap(err, "create job")
	}

	if err := s.queue.Publish(ctx, entity.NewWorkItem(job)); err != nil {
		s.log.Warn("job persisted but not enqueued, awaiting replay",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
	}

	return job, nil
}

// Replay re-publishes the work item of a job that is still pending,
// the recovery path for submissions persisted while the queue was
// unreachable.
func (s *JobService) Replay(ctx context.Context, id uuid.UUID) error {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != entity.StatusPending {
		return ErrNotReplayable
	}

	if err := s.queue.Publish(ctx, entity.NewWorkItem(job)); err != nil {
		return err
	}

	s.log.Info("job replayed", zap.String("job_id", id.String()))
	return nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, f postgresql.JobFilter) ([]entity.Job, error) {
	return s.repo.List(ctx, f)
}
