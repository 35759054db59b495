package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/repository/postgresql"
)

// JobRepo is the store port for status transitions. Both writes are
// unconditional per job id (last-writer-wins): redelivery of an already
// attempted message must always be able to re-run classification over
// whatever a previous attempt left behind.
type JobRepo interface {
	MarkProcessing(ctx context.Context, id uuid.UUID, workerID string) error
	SetDecision(ctx context.Context, id uuid.UUID, d entity.Decision, durationMs int64) error
}

// Classifier is the decision function the processor runs per message.
type Classifier interface {
	Classify(ctx context.Context, content string) entity.Decision
}

type Processor struct {
	repo       JobRepo
	classifier Classifier
	log        *zap.Logger
}

func NewProcessor(repo JobRepo, classifier Classifier, log *zap.Logger) *Processor {
	return &Processor{repo: repo, classifier: classifier, log: log}
}

// Process runs one delivery of a work item through the status machine:
// mark processing, classify, write the decision. The processing write
// happens before classification so a crash mid-call leaves the job
// visibly stuck in processing rather than pending.
//
// A nil return means the decision is durable and the message may be
// acked. On a non-nil return the caller must leave the message unacked
// so the broker redelivers it. A work item with no job record is
// dropped with a warning.
func (p *Processor) Process(ctx context.Context, workerID string, item entity.WorkItem) error {
	if err := p.repo.MarkProcessing(ctx, item.ID, workerID); err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			p.log.Warn("work item has no job record, dropping",
				zap.String("job_id", item.ID.String()))
			return nil
		}
		return errors.Wrap(err, "mark processing")
	}

	start := time.Now()
	decision := p.classifier.Classify(ctx, item.Content)
	durationMs := time.Since(start).Milliseconds()

	if err := p.repo.SetDecision(ctx, item.ID, decision, durationMs); err != nil {
		return errors.Wrap(err, "write decision")
	}

	p.log.Info("job classified",
		zap.String("job_id", item.ID.String()),
		zap.String("worker_id", workerID),
		zap.String("status", string(decision.Status)),
		zap.Int64("duration_ms", durationMs))
	return nil
}
