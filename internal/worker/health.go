package worker

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
	Workers  int    `json:"workers"`
	Busy     int    `json:"busy"`
}

// HealthRoutes serves the worker process health endpoint probed by the
// liveness monitor.
func HealthRoutes(workerID string, pool *Pool) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:   "ok",
			WorkerID: workerID,
			Workers:  pool.Workers(),
			Busy:     pool.BusyCount(),
		})
	})

	return r
}
