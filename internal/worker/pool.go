package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"moderation-pipeline/internal/service"
)

// Consumer is the queue port the pool drives.
type Consumer interface {
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, payload string) error
}

// Pool runs N consumer slots. A slot claims one message, processes it
// and acks before claiming again, so each consumer holds at most one
// job in flight.
type Pool struct {
	queue      Consumer
	processor  *Processor
	workers    int
	baseID     string
	claimDelay time.Duration
	retryDelay time.Duration
	busy       []atomic.Bool
	log        *zap.Logger
}

func NewPool(queue Consumer, processor *Processor, workers int, baseID string, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		baseID:     baseID,
		claimDelay: 5 * time.Second,
		retryDelay: 5 * time.Second,
		busy:       make([]atomic.Bool, workers),
		log:        log,
	}
}

// BusyCount reports how many slots currently hold an in-flight job.
func (p *Pool) BusyCount() int {
	n := 0
	for i := range p.busy {
		if p.busy[i].Load() {
			n++
		}
	}
	return n
}

func (p *Pool) Workers() int { return p.workers }

// Run blocks until ctx is cancelled and every slot has drained.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool started", zap.Int("workers", p.workers))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.consumeLoop(ctx, slot)
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
}

func (p *Pool) consumeLoop(ctx context.Context, slot int) {
	workerID := fmt.Sprintf("%s-%d", p.baseID, slot+1)
	log := p.log.With(zap.String("worker_id", workerID))

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, service.ErrNoWork) {
				continue
			}
			log.Warn("claim failed, retrying",
				zap.Duration("retry_delay", p.retryDelay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}

		item, err := service.DecodeWorkItem(payload)
		if err != nil {
			// malformed payload: no job record can be found for it,
			// redelivering forever helps nobody
			log.Error("dropping undecodable work item", zap.Error(err))
			if ackErr := p.queue.Ack(ctx, payload); ackErr != nil {
				log.Error("ack failed", zap.Error(ackErr))
			}
			continue
		}

		p.busy[slot].Store(true)
		procErr := p.processor.Process(ctx, workerID, item)
		p.busy[slot].Store(false)

		if procErr != nil {
			// decision is not durable; leave the message in the
			// processing list so the reaper redelivers it
			log.Error("processing failed, leaving message for redelivery",
				zap.String("job_id", item.ID.String()),
				zap.Error(procErr))
			continue
		}

		if err := p.queue.Ack(ctx, payload); err != nil {
			// worst case the reaper redelivers and the job is
			// re-classified; at-least-once, never lost
			log.Error("ack failed",
				zap.String("job_id", item.ID.String()),
				zap.Error(err))
		}
	}
}
