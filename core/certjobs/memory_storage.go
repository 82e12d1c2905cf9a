package certjobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage implements Storage in memory. It honors the same lease
// semantics as the PostgreSQL implementation but provides no durability
// across restarts; production deployments should persist jobs.
type MemoryStorage struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory job storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{jobs: make(map[string]*Job)}
}

func (ms *MemoryStorage) Enqueue(ctx context.Context, job *Job) error {
	if !job.Kind.Valid() {
		return ErrInvalidKind
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	cp := *job
	now := time.Now()
	if cp.Status == "" {
		cp.Status = JobStatusPending
	}
	if cp.ScheduledAt.IsZero() {
		cp.ScheduledAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	ms.jobs[cp.ID] = &cp
	return nil
}

func (ms *MemoryStorage) Claim(ctx context.Context, workerID string, lockDuration time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job
	for _, job := range ms.jobs {
		eligible := false
		switch job.Status {
		case JobStatusPending:
			eligible = !job.ScheduledAt.After(now)
		case JobStatusProcessing:
			// Expired lease: the previous worker died mid-flight.
			eligible = job.LockedUntil != nil && job.LockedUntil.Before(now)
		}
		if !eligible {
			continue
		}
		if best == nil || job.ScheduledAt.Before(best.ScheduledAt) {
			best = job
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	until := now.Add(lockDuration)
	best.Status = JobStatusProcessing
	best.LockedUntil = &until
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

func (ms *MemoryStorage) Complete(ctx context.Context, jobID string) error {
	return ms.update(jobID, func(job *Job) {
		job.Status = JobStatusCompleted
		job.LockedUntil = nil
		job.LockedBy = nil
	})
}

func (ms *MemoryStorage) Retry(ctx context.Context, jobID string, errMsg string, nextAt time.Time) error {
	return ms.update(jobID, func(job *Job) {
		job.Status = JobStatusPending
		job.RetryCount++
		job.ScheduledAt = nextAt
		job.LastError = &errMsg
		job.LockedUntil = nil
		job.LockedBy = nil
	})
}

func (ms *MemoryStorage) MarkDead(ctx context.Context, jobID string, errMsg string) error {
	return ms.update(jobID, func(job *Job) {
		job.Status = JobStatusDead
		job.LastError = &errMsg
		job.LockedUntil = nil
		job.LockedBy = nil
	})
}

func (ms *MemoryStorage) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	counts := make(map[JobStatus]int)
	for _, job := range ms.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (ms *MemoryStorage) update(jobID string, fn func(*Job)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	return nil
}
