package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/monitor"
	"moderation-pipeline/internal/repository/postgresql"
	"moderation-pipeline/internal/service"
	httptransport "moderation-pipeline/internal/transport/http"
)

// ---- fakes ----

type repoWithJobs struct {
	jobs map[uuid.UUID]*entity.Job
}

func (r *repoWithJobs) Create(_ context.Context, job *entity.Job) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *repoWithJobs) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *repoWithJobs) List(_ context.Context, f postgresql.JobFilter) ([]entity.Job, error) {
	var out []entity.Job
	for _, j := range r.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (r *repoWithJobs) CountsByStatus(_ context.Context) (map[entity.JobStatus]int64, error) {
	counts := map[entity.JobStatus]int64{}
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *repoWithJobs) WorkerThroughput(_ context.Context) ([]postgresql.WorkerThroughput, error) {
	return nil, nil
}

func (r *repoWithJobs) CategoryCounts(_ context.Context) ([]postgresql.CategoryCount, error) {
	return nil, nil
}

func (r *repoWithJobs) HourlyCounts(_ context.Context, _ time.Time) ([]postgresql.TimeBucket, error) {
	return nil, nil
}

type queueStub struct {
	published  []entity.WorkItem
	publishErr error
}

func (q *queueStub) Publish(_ context.Context, item entity.WorkItem) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, item)
	return nil
}

type fleetStub struct {
	snapshot monitor.Snapshot
}

func (f *fleetStub) Check(_ context.Context) monitor.Snapshot {
	return f.snapshot
}

// ---- helpers ----

func newTestRouter(repo *repoWithJobs, queue *queueStub) http.Handler {
	log := zap.NewNop()
	jobSvc := service.NewJobService(repo, queue, log)
	reportSvc := service.NewReportService(repo)
	fleet := &fleetStub{snapshot: monitor.Snapshot{QueueConnected: true}}
	h := httptransport.NewHandler(jobSvc, reportSvc, fleet)
	return httptransport.Routes(h, log)
}

// ---- tests ----

func TestHTTP_SubmitJob_201(t *testing.T) {
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	body := `{"title":"t","content":"this is great","author":"a","category":"general"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp["status"] != "pending" {
		t.Fatalf("expected pending, got %v", resp["status"])
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one published work item, got %d", len(queue.published))
	}
	if queue.published[0].ID.String() != resp["id"] {
		t.Fatalf("work item id %s does not match response id %v", queue.published[0].ID, resp["id"])
	}
}

func TestHTTP_SubmitJob_400_OnMissingField(t *testing.T) {
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	body := `{"title":"t","author":"a"}` // no content
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(repo.jobs) != 0 {
		t.Fatal("no job may be created for invalid input")
	}
}

func TestHTTP_ErrorResponseCarriesRequestID(t *testing.T) {
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}
	router := newTestRouter(repo, &queueStub{})

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	id, _ := resp["request_id"].(string)
	if id == "" {
		t.Fatalf("error body must carry the request id, got %s", rr.Body.String())
	}
}

func TestHTTP_SubmitJob_201_WhenQueueDown(t *testing.T) {
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}
	queue := &queueStub{publishErr: service.ErrQueueUnavailable}
	router := newTestRouter(repo, queue)

	body := `{"title":"t","content":"c","author":"a"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("queue outage must not surface to the submitter, got %d", rr.Code)
	}
	if len(repo.jobs) != 1 {
		t.Fatal("job must still be persisted")
	}
}

func TestHTTP_GetJob_404(t *testing.T) {
	router := newTestRouter(&repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}, &queueStub{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_ListJobs_FiltersByStatus(t *testing.T) {
	approved := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	pending := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{
		approved: {ID: approved, Title: "t", Content: "c", Author: "a", Status: entity.StatusApproved, CreatedAt: time.Now().UTC()},
		pending:  {ID: pending, Title: "t", Content: "c", Author: "a", Status: entity.StatusPending, CreatedAt: time.Now().UTC()},
	}}
	router := newTestRouter(repo, &queueStub{})

	req := httptest.NewRequest(http.MethodGet, "/jobs?status=approved", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var got []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != approved.String() {
		t.Fatalf("expected only the approved job, got %#v", got)
	}
}

func TestHTTP_ListJobs_400_OnUnknownStatus(t *testing.T) {
	router := newTestRouter(&repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}, &queueStub{})

	req := httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHTTP_ReplayJob_409_WhenNotPending(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{
		id: {ID: id, Title: "t", Content: "c", Author: "a", Status: entity.StatusApproved},
	}}
	router := newTestRouter(repo, &queueStub{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+id.String()+"/replay", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_ReplayJob_202_ForPending(t *testing.T) {
	id := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{
		id: {ID: id, Title: "t", Content: "c", Author: "a", Status: entity.StatusPending},
	}}
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+id.String()+"/replay", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one republished work item, got %d", len(queue.published))
	}
}

func TestHTTP_Stats_200(t *testing.T) {
	id := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	repo := &repoWithJobs{jobs: map[uuid.UUID]*entity.Job{
		id: {ID: id, Title: "t", Content: "c", Author: "a", Status: entity.StatusApproved},
	}}
	router := newTestRouter(repo, &queueStub{})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var stats map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	byStatus := stats["by_status"].(map[string]any)
	if byStatus["approved"] != float64(1) {
		t.Fatalf("expected one approved job in stats, got %v", byStatus)
	}
}

func TestHTTP_Fleet_200(t *testing.T) {
	router := newTestRouter(&repoWithJobs{jobs: map[uuid.UUID]*entity.Job{}}, &queueStub{})

	req := httptest.NewRequest(http.MethodGet, "/fleet", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var snap map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if snap["queue_connected"] != true {
		t.Fatalf("expected queue_connected=true, got %v", snap["queue_connected"])
	}
}
