package certjobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer creates completion jobs. It is the only write path into the
// queue; the issuance orchestrator holds one per process.
type Enqueuer struct {
	storage    Storage
	maxRetries int
}

// NewEnqueuer creates an Enqueuer. maxRetries <= 0 falls back to 3.
func NewEnqueuer(storage Storage, maxRetries int) (*Enqueuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Enqueuer{storage: storage, maxRetries: maxRetries}, nil
}

// Enqueue stores a pending job for the certificate, due immediately.
func (e *Enqueuer) Enqueue(ctx context.Context, kind Kind, certificateID string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	job := &Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		CertificateID: certificateID,
		Status:        JobStatusPending,
		MaxRetries:    e.maxRetries,
		ScheduledAt:   time.Now(),
		CreatedAt:     time.Now(),
	}
	if err := e.storage.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job for certificate %s: %w", kind, certificateID, err)
	}
	return nil
}
