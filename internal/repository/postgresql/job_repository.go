package postgresql

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"moderation-pipeline/internal/entity"
)

var ErrNotFound = errors.New("not found")

// JobFilter narrows List results. Zero values mean "no constraint";
// Limit <= 0 falls back to a default page size.
type JobFilter struct {
	Status entity.JobStatus
	Since  time.Time
	Until  time.Time
	Limit  int
}

const defaultListLimit = 100

type WorkerThroughput struct {
	WorkerID      string  `json:"worker_id"`
	Completed     int64   `json:"completed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type TimeBucket struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `
id, title, content, author, category, server_tag, status,
assigned_worker, decision_detail, score, review_reason,
created_at, completed_at, processing_duration_ms`

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO jobs (id, title, content, author, category, server_tag, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID, job.Title, job.Content, job.Author, job.Category, job.ServerTag,
		string(job.Status), job.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert job")
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get job")
	}
	return job, nil
}

// MarkProcessing is an unconditional write: redelivery of an already
// attempted message must always be able to restart classification, so
// there is no guard on the previous status. Decision fields and
// completed_at are cleared to keep the record consistent with the new
// attempt (completed_at is set iff the status is terminal).
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID, workerID string) error {
	const q = `
UPDATE jobs SET
	status = 'processing',
	assigned_worker = $2,
	decision_detail = NULL,
	score = NULL,
	review_reason = NULL,
	completed_at = NULL
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, workerID)
	if err != nil {
		return errors.Wrap(err, "mark processing")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDecision writes the outcome of one classification attempt,
// last-writer-wins on the job id. completed_at is stamped only for
// approved/rejected; needs_review leaves it NULL.
func (r *JobRepository) SetDecision(ctx context.Context, id uuid.UUID, d entity.Decision, durationMs int64) error {
	const q = `
UPDATE jobs SET
	status = $2,
	decision_detail = $3,
	score = $4,
	review_reason = $5,
	processing_duration_ms = $6,
	completed_at = CASE WHEN $2 IN ('approved', 'rejected') THEN now() ELSE NULL END
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, string(d.Status), d.Detail, d.Score, d.ReviewReason, durationMs)
	if err != nil {
		return errors.Wrap(err, "set decision")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepository) List(ctx context.Context, f JobFilter) ([]entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := make([]any, 0, 4)

	if f.Status != "" {
		args = append(args, string(f.Status))
		q += ` AND status = $` + itoa(len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		q += ` AND created_at >= $` + itoa(len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		q += ` AND created_at <= $` + itoa(len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	q += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)) + `;`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListAll streams every job record, oldest first. Used by the backup
// snapshotter; not exposed over the API.
func (r *JobRepository) ListAll(ctx context.Context) ([]entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list all jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) CountsByStatus(ctx context.Context) (map[entity.JobStatus]int64, error) {
	const q = `SELECT status, count(*) FROM jobs GROUP BY status;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "count jobs by status")
	}
	defer rows.Close()

	counts := make(map[entity.JobStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan status count")
		}
		counts[entity.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *JobRepository) WorkerThroughput(ctx context.Context) ([]WorkerThroughput, error) {
	const q = `
SELECT assigned_worker, count(*), coalesce(avg(processing_duration_ms), 0)
FROM jobs
WHERE assigned_worker IS NOT NULL AND status IN ('approved', 'rejected', 'needs_review')
GROUP BY assigned_worker
ORDER BY count(*) DESC;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "worker throughput")
	}
	defer rows.Close()

	var out []WorkerThroughput
	for rows.Next() {
		var wt WorkerThroughput
		if err := rows.Scan(&wt.WorkerID, &wt.Completed, &wt.AvgDurationMs); err != nil {
			return nil, errors.Wrap(err, "scan worker throughput")
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (r *JobRepository) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	const q = `SELECT category, count(*) FROM jobs GROUP BY category ORDER BY count(*) DESC;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "category counts")
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, errors.Wrap(err, "scan category count")
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (r *JobRepository) HourlyCounts(ctx context.Context, since time.Time) ([]TimeBucket, error) {
	const q = `
SELECT date_trunc('hour', created_at) AS hour, count(*)
FROM jobs
WHERE created_at >= $1
GROUP BY hour
ORDER BY hour;
`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, errors.Wrap(err, "hourly counts")
	}
	defer rows.Close()

	var out []TimeBucket
	for rows.Next() {
		var tb TimeBucket
		if err := rows.Scan(&tb.Hour, &tb.Count); err != nil {
			return nil, errors.Wrap(err, "scan time bucket")
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job    entity.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.Title,
		&job.Content,
		&job.Author,
		&job.Category,
		&job.ServerTag,
		&status,
		&job.AssignedWorker,
		&job.DecisionDetail,
		&job.Score,
		&job.ReviewReason,
		&job.CreatedAt,
		&job.CompletedAt,
		&job.ProcessingDurationMs,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]entity.Job, error) {
	var out []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
