package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unquietwiki/changerawr-sub002/core/certjobs"
)

// JobStorage implements certjobs.Storage on a pgxpool, usually the same
// pool as Storage. It is a separate type because the job and certificate
// repositories both expose status counters.
type JobStorage struct {
	pool *pgxpool.Pool
}

var _ certjobs.Storage = (*JobStorage)(nil)

// NewJobStorage creates a JobStorage over an established pool.
func NewJobStorage(pool *pgxpool.Pool) *JobStorage {
	return &JobStorage{pool: pool}
}

func (s *JobStorage) db(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

const jobColumns = `id, kind, certificate_id, status, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, last_error, created_at`

func scanJob(row pgx.Row) (*certjobs.Job, error) {
	var j certjobs.Job
	err := row.Scan(
		&j.ID, &j.Kind, &j.CertificateID, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.ScheduledAt, &j.LockedUntil, &j.LockedBy, &j.LastError, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *JobStorage) Enqueue(ctx context.Context, job *certjobs.Job) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO completion_jobs (
			id, kind, certificate_id, status, retry_count, max_retries, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Kind, job.CertificateID, job.Status,
		job.RetryCount, job.MaxRetries, job.ScheduledAt)
	if err != nil {
		return fmt.Errorf("enqueue completion job: %w", err)
	}
	return nil
}

// Claim picks the next due pending job or a processing job with an
// expired lease (crashed worker). SKIP LOCKED keeps concurrent workers
// from contending on the same row.
func (s *JobStorage) Claim(ctx context.Context, workerID string, lockDuration time.Duration) (*certjobs.Job, error) {
	lockedUntil := time.Now().Add(lockDuration)
	job, err := scanJob(s.db(ctx).QueryRow(ctx, `
		UPDATE completion_jobs
		SET status = $1, locked_until = $2, locked_by = $3
		WHERE id = (
			SELECT id FROM completion_jobs
			WHERE (status = $4 AND scheduled_at <= now())
			   OR (status = $1 AND locked_until < now())
			ORDER BY scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		certjobs.JobStatusProcessing, lockedUntil, workerID, certjobs.JobStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, certjobs.ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim completion job: %w", err)
	}
	return job, nil
}

func (s *JobStorage) Complete(ctx context.Context, jobID string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE completion_jobs
		SET status = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1`, jobID, certjobs.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certjobs.ErrJobNotFound
	}
	return nil
}

func (s *JobStorage) Retry(ctx context.Context, jobID string, errMsg string, nextAt time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE completion_jobs
		SET status = $2, retry_count = retry_count + 1, last_error = $3,
			scheduled_at = $4, locked_until = NULL, locked_by = NULL
		WHERE id = $1`, jobID, certjobs.JobStatusPending, errMsg, nextAt)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certjobs.ErrJobNotFound
	}
	return nil
}

func (s *JobStorage) MarkDead(ctx context.Context, jobID string, errMsg string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE completion_jobs
		SET status = $2, last_error = $3, locked_until = NULL, locked_by = NULL
		WHERE id = $1`, jobID, certjobs.JobStatusDead, errMsg)
	if err != nil {
		return fmt.Errorf("mark job dead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certjobs.ErrJobNotFound
	}
	return nil
}

func (s *JobStorage) CountByStatus(ctx context.Context) (map[certjobs.JobStatus]int, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT status, count(*)
		FROM completion_jobs
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[certjobs.JobStatus]int)
	for rows.Next() {
		var status certjobs.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	return counts, nil
}
