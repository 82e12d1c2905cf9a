package certjobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Processor finalizes pending certificates. The closed method set mirrors
// the Kind union; the worker's dispatch switch cannot reference a kind the
// processor does not implement.
type Processor interface {
	// FinalizeHTTP01 drives a PENDING_HTTP01 record to a terminal state.
	// A returned error is retryable; terminal CA failures are recorded on
	// the certificate by the processor itself, which then returns nil.
	FinalizeHTTP01(ctx context.Context, certificateID string) error

	// FinalizeDNS01 drives a PENDING_DNS01 record to a terminal state with
	// the same error contract as FinalizeHTTP01.
	FinalizeDNS01(ctx context.Context, certificateID string) error

	// AbandonCertificate marks the certificate FAILED after its job
	// exhausted all retries. Best effort; the job goes dead regardless.
	AbandonCertificate(ctx context.Context, certificateID string, cause error)
}

// Worker claims completion jobs and drives them through the processor.
type Worker struct {
	storage   Storage
	processor Processor
	workerID  string
	sem       chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex

	pollInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	retryBackoff    time.Duration
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
	activeJobs    atomic.Int32
	running       atomic.Bool
}

// NewWorker creates a Worker over the given storage and processor.
func NewWorker(storage Storage, processor Processor, opts ...WorkerOption) (*Worker, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if processor == nil {
		return nil, ErrProcessorNil
	}

	options := &workerOptions{
		pollInterval:    time.Second,
		lockTimeout:     5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		maxConcurrent:   4,
		retryBackoff:    30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		storage:         storage,
		processor:       processor,
		workerID:        uuid.NewString(),
		sem:             make(chan struct{}, options.maxConcurrent),
		pollInterval:    options.pollInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		retryBackoff:    options.retryBackoff,
		logger:          options.logger,
	}, nil
}

// NewWorkerFromConfig creates a Worker from configuration. Additional
// options override config values.
func NewWorkerFromConfig(cfg Config, storage Storage, processor Processor, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPollInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrent(cfg.MaxConcurrent),
		WithRetryBackoff(cfg.RetryBackoff),
	}, opts...)

	return NewWorker(storage, processor, allOpts...)
}

// Start begins claiming jobs. Blocking; runs until the context is
// cancelled. Use Run for errgroup composition.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.InfoContext(w.ctx, "completion worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("max_concurrent", cap(w.sem)))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.InfoContext(context.Background(), "completion worker stopping")
			return w.ctx.Err()
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Verify the worker is still running and register with the
				// waitgroup under the same lock, or Stop could wait on an
				// incomplete count.
				w.mu.RLock()
				if w.cancel == nil {
					w.mu.RUnlock()
					<-w.sem
					return nil
				}
				w.wg.Add(1)
				w.mu.RUnlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if err := w.claimAndProcess(); err != nil {
						w.logger.ErrorContext(w.ctx, "failed to process job",
							slog.String("worker_id", w.workerID),
							slog.String("error", err.Error()))
					}
				}()
			default:
				w.logger.DebugContext(w.ctx, "all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID))
			}
		}
	}
}

// Stop gracefully shuts down the worker, waiting up to the shutdown
// timeout for active jobs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(context.Background(), "completion worker stopped cleanly",
			slog.String("worker_id", w.workerID))
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(context.Background(), "worker shutdown timeout exceeded, abandoned jobs will be reclaimed after their lease expires",
			slog.String("worker_id", w.workerID),
			slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// Run provides errgroup compatibility: starts the worker and performs a
// graceful Stop when the context is cancelled.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// GetStats returns current worker metrics.
func (w *Worker) GetStats() Stats {
	return Stats{
		JobsProcessed: w.jobsProcessed.Load(),
		JobsFailed:    w.jobsFailed.Load(),
		ActiveJobs:    w.activeJobs.Load(),
		IsRunning:     w.running.Load(),
	}
}

// Healthcheck returns a probe function reporting whether the worker runs.
func (w *Worker) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if !w.running.Load() {
			return ErrWorkerNotHealthy
		}
		return nil
	}
}

func (w *Worker) claimAndProcess() error {
	job, err := w.storage.Claim(w.ctx, w.workerID, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	w.logger.DebugContext(w.ctx, "claimed job",
		slog.String("worker_id", w.workerID),
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("certificate_id", job.CertificateID))

	return w.processJob(job)
}

func (w *Worker) processJob(job *Job) (retErr error) {
	start := time.Now()

	w.activeJobs.Add(1)
	defer w.activeJobs.Add(-1)

	// Jobs run on an independent context with the lease as their budget,
	// so a graceful worker shutdown does not interrupt a finalize mid-CA.
	// Bookkeeping writes share it: a job finishing during shutdown must
	// still record its outcome, or it would re-run after its lease expires.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	// A panicking finalize must not take down the worker; treat it as a
	// retryable job failure.
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in processor: %v", r)
			w.logger.ErrorContext(ctx, "processor panicked",
				slog.String("job_id", job.ID),
				slog.String("kind", string(job.Kind)),
				slog.Any("panic", r))
			_ = w.handleJobFailure(ctx, job, retErr)
		}
	}()

	var err error
	switch job.Kind {
	case KindFinalizeHTTP01:
		err = w.processor.FinalizeHTTP01(ctx, job.CertificateID)
	case KindFinalizeDNS01:
		err = w.processor.FinalizeDNS01(ctx, job.CertificateID)
	default:
		// Unreachable for jobs created through the Enqueuer; a foreign row
		// goes dead instead of spinning through retries.
		err = fmt.Errorf("%w: %q", ErrInvalidKind, job.Kind)
		w.jobsFailed.Add(1)
		if markErr := w.storage.MarkDead(ctx, job.ID, err.Error()); markErr != nil {
			return fmt.Errorf("mark job %s dead: %w", job.ID, markErr)
		}
		return err
	}

	duration := time.Since(start)
	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if completeErr := w.storage.Complete(ctx, job.ID); completeErr != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, completeErr)
	}
	w.jobsProcessed.Add(1)

	w.logger.InfoContext(ctx, "completion job finished",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("certificate_id", job.CertificateID),
		slog.Duration("duration", duration))
	return nil
}

// handleJobFailure retries with exponential backoff while attempts remain;
// otherwise the certificate is abandoned and the job goes dead. It runs on
// the job's lease context, not the worker's, so the outcome is recorded
// even when the worker is shutting down.
func (w *Worker) handleJobFailure(ctx context.Context, job *Job, execErr error) error {
	w.jobsFailed.Add(1)

	w.logger.ErrorContext(ctx, "completion job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("certificate_id", job.CertificateID),
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
		slog.String("error", execErr.Error()))

	if job.RetryCount >= job.MaxRetries {
		w.processor.AbandonCertificate(ctx, job.CertificateID, execErr)

		if err := w.storage.MarkDead(ctx, job.ID, execErr.Error()); err != nil {
			return fmt.Errorf("mark job %s dead: %w", job.ID, err)
		}
		w.logger.WarnContext(ctx, "job exhausted retries, certificate abandoned",
			slog.String("job_id", job.ID),
			slog.String("certificate_id", job.CertificateID))
		return nil
	}

	nextAt := time.Now().Add(w.backoffFor(job.RetryCount))
	if err := w.storage.Retry(ctx, job.ID, execErr.Error(), nextAt); err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) backoffFor(retryCount int) time.Duration {
	return time.Duration(float64(w.retryBackoff) * math.Pow(2, float64(retryCount)))
}
