package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moderation-pipeline/internal/classifier"
	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/repository/postgresql"
	"moderation-pipeline/internal/service"
	"moderation-pipeline/internal/worker"
)

// memStore backs both the ingestion and the worker side of the
// pipeline with one in-memory job table.
type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*entity.Job{}}
}

func (s *memStore) Create(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) List(_ context.Context, _ postgresql.JobFilter) ([]entity.Job, error) {
	return nil, nil
}

func (s *memStore) MarkProcessing(_ context.Context, id uuid.UUID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	j.Status = entity.StatusProcessing
	j.AssignedWorker = &workerID
	j.DecisionDetail = nil
	j.Score = nil
	j.ReviewReason = nil
	j.CompletedAt = nil
	return nil
}

func (s *memStore) SetDecision(_ context.Context, id uuid.UUID, d entity.Decision, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	j.Status = d.Status
	j.DecisionDetail = &d.Detail
	j.Score = d.Score
	j.ReviewReason = d.ReviewReason
	j.ProcessingDurationMs = &durationMs
	if d.Status.Terminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	} else {
		j.CompletedAt = nil
	}
	return nil
}

func (s *memStore) snapshot(id uuid.UUID) (entity.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return entity.Job{}, false
	}
	return *j, true
}

// memQueue is an in-memory stand-in for the Redis reliable queue.
type memQueue struct {
	mu    sync.Mutex
	ready []string
	acked int
}

func (q *memQueue) Publish(_ context.Context, item entity.WorkItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, string(b))
	return nil
}

func (q *memQueue) ClaimBlocking(_ context.Context, _ time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		time.Sleep(time.Millisecond)
		return "", service.ErrNoWork
	}
	p := q.ready[0]
	q.ready = q.ready[1:]
	return p, nil
}

func (q *memQueue) Ack(_ context.Context, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked++
	return nil
}

func (q *memQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

type countingScorer struct {
	mu    sync.Mutex
	calls int
	score float64
}

func (s *countingScorer) Score(_ context.Context, _ string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return map[string]float64{"TOXICITY": s.score, "INSULT": 0.0, "PROFANITY": 0.0}, nil
}

func (s *countingScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func runPipeline(t *testing.T, store *memStore, queue *memQueue, cls worker.Classifier, submit service.SubmitRequest) entity.Job {
	t.Helper()

	svc := service.NewJobService(store, queue, zap.NewNop())
	job, err := svc.Submit(context.Background(), submit)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pool := worker.NewPool(queue, worker.NewProcessor(store, cls, zap.NewNop()), 1, "worker", zap.NewNop())
	runPool(t, pool, func() bool { return queue.ackedCount() == 1 })

	final, ok := store.snapshot(job.ID)
	if !ok {
		t.Fatal("job vanished from the store")
	}
	return final
}

func TestPipeline_CleanContentEndsApproved(t *testing.T) {
	store := newMemStore()
	queue := &memQueue{}
	scorer := &countingScorer{score: 0.2}
	cls := classifier.New([]string{"forbidden"}, scorer)

	final := runPipeline(t, store, queue, cls, service.SubmitRequest{
		Title: "t", Content: "this is great", Author: "a",
	})

	if final.Status != entity.StatusApproved {
		t.Fatalf("expected approved, got %s", final.Status)
	}
	if final.ReviewReason != nil {
		t.Fatalf("expected nil review reason, got %q", *final.ReviewReason)
	}
	if final.Score == nil || *final.Score != 0.2 {
		t.Fatalf("expected score 0.2, got %v", final.Score)
	}
	if final.CompletedAt == nil {
		t.Fatal("terminal status must set completed_at")
	}
	if final.AssignedWorker == nil {
		t.Fatal("expected an assigned worker")
	}
}

func TestPipeline_DenyListedContentRejectedWithoutScoring(t *testing.T) {
	store := newMemStore()
	queue := &memQueue{}
	scorer := &countingScorer{score: 0.0}
	cls := classifier.New([]string{"forbidden"}, scorer)

	final := runPipeline(t, store, queue, cls, service.SubmitRequest{
		Title: "t", Content: "this text is strictly FORBIDDEN here", Author: "a",
	})

	if final.Status != entity.StatusRejected {
		t.Fatalf("expected rejected, got %s", final.Status)
	}
	if final.Score != nil {
		t.Fatalf("deny-list rejection must not carry a score, got %v", *final.Score)
	}
	if got := scorer.callCount(); got != 0 {
		t.Fatalf("scoring service must not be called for deny-listed content, got %d calls", got)
	}
	if final.CompletedAt == nil {
		t.Fatal("rejected is terminal, completed_at must be set")
	}
}
