// Package monitor probes the worker fleet and the queue connection.
// Results are point-in-time snapshots, never persisted.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultProbeTimeout = time.Second

// QueuePinger is the broker health port.
type QueuePinger interface {
	Ping(ctx context.Context) error
}

type WorkerHealth struct {
	Address   string `json:"address"`
	WorkerID  string `json:"worker_id,omitempty"`
	Reachable bool   `json:"reachable"`
	Busy      int    `json:"busy"`
	Workers   int    `json:"workers"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type Snapshot struct {
	CheckedAt      time.Time      `json:"checked_at"`
	QueueConnected bool           `json:"queue_connected"`
	Workers        []WorkerHealth `json:"workers"`
}

type Monitor struct {
	addresses []string
	queue     QueuePinger
	timeout   time.Duration
	client    *http.Client
	log       *zap.Logger
}

func New(addresses []string, queue QueuePinger, timeout time.Duration, log *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Monitor{
		addresses: addresses,
		queue:     queue,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

// Check probes every worker in parallel plus the queue connection.
// Each probe has its own timeout and failures are isolated: one
// unreachable worker marks only its own entry.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	snap := Snapshot{
		CheckedAt: time.Now().UTC(),
		Workers:   make([]WorkerHealth, len(m.addresses)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range m.addresses {
		g.Go(func() error {
			snap.Workers[i] = m.probe(gctx, addr)
			return nil
		})
	}
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, m.timeout)
		defer cancel()
		snap.QueueConnected = m.queue.Ping(pctx) == nil
		return nil
	})
	_ = g.Wait()

	return snap
}

func (m *Monitor) probe(ctx context.Context, addr string) WorkerHealth {
	health := WorkerHealth{Address: addr}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		health.Error = err.Error()
		return health
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	health.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		// timeout means unreachable, not fatal
		health.Error = err.Error()
		m.log.Debug("worker probe failed",
			zap.String("address", addr),
			zap.Error(err))
		return health
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		health.Error = resp.Status
		return health
	}

	var body struct {
		Status   string `json:"status"`
		WorkerID string `json:"worker_id"`
		Workers  int    `json:"workers"`
		Busy     int    `json:"busy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		health.Error = err.Error()
		return health
	}

	health.Reachable = body.Status == "ok"
	health.WorkerID = body.WorkerID
	health.Workers = body.Workers
	health.Busy = body.Busy
	return health
}
