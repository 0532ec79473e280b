// Package worker runs bounded concurrent consumers that drive every claimed
// job to a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/platform"
	"github.com/vuive/marketsync/internal/sync/deadletter"
	"github.com/vuive/marketsync/internal/sync/metrics"
	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/retry"
)

// Config holds worker pool tuning. Job workers and batch coordinators are
// bounded independently so one workload cannot starve the other.
type Config struct {
	JobWorkers         int           `yaml:"job_workers"`
	BatchWorkers       int           `yaml:"batch_workers"`
	ClaimTimeout       time.Duration `yaml:"claim_timeout"`
	IdleSleep          time.Duration `yaml:"idle_sleep"`
	CoordinatorPoll    time.Duration `yaml:"coordinator_poll"`
	CoordinatorRequeue time.Duration `yaml:"coordinator_requeue"`
	DeadLetterRetry    time.Duration `yaml:"dead_letter_retry"`
	EventBuffer        int           `yaml:"event_buffer"`
}

// DefaultConfig returns default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		JobWorkers:         5,
		BatchWorkers:       2,
		ClaimTimeout:       2 * time.Second,
		IdleSleep:          500 * time.Millisecond,
		CoordinatorPoll:    1 * time.Second,
		CoordinatorRequeue: 2 * time.Second,
		DeadLetterRetry:    30 * time.Second,
		EventBuffer:        128,
	}
}

// Pool is the set of concurrent job consumers.
type Pool struct {
	cfg     Config
	queue   *queue.Service
	jobs    storage.JobRepository
	syncLog storage.SyncLogRepository
	dlq     *deadletter.Store
	policy  *retry.Policy
	catalog platform.CatalogReader
	adapter platform.Adapter
	events  chan Event
	log     *slog.Logger
}

// NewPool creates a worker pool.
func NewPool(
	cfg Config,
	q *queue.Service,
	jobs storage.JobRepository,
	syncLog storage.SyncLogRepository,
	dlq *deadletter.Store,
	policy *retry.Policy,
	catalog platform.CatalogReader,
	adapter platform.Adapter,
) *Pool {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		jobs:    jobs,
		syncLog: syncLog,
		dlq:     dlq,
		policy:  policy,
		catalog: catalog,
		adapter: adapter,
		events:  make(chan Event, cfg.EventBuffer),
		log:     slog.Default().With("component", "worker"),
	}
}

// Run starts every worker and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.JobWorkers; i++ {
		id := i
		g.Go(func() error { return p.runJobWorker(ctx, id) })
	}
	for i := 0; i < p.cfg.BatchWorkers; i++ {
		id := i
		g.Go(func() error { return p.runCoordinator(ctx, id) })
	}

	p.log.Info("Worker pool started",
		"job_workers", p.cfg.JobWorkers, "batch_workers", p.cfg.BatchWorkers)
	return g.Wait()
}

func (p *Pool) runJobWorker(ctx context.Context, id int) error {
	log := p.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			log.Info("Job worker stopped")
			return nil
		default:
		}

		job, found, err := p.queue.Claim(ctx, p.cfg.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Failed to claim job", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if !found {
			sleep(ctx, p.cfg.IdleSleep)
			continue
		}

		p.execute(ctx, job)
	}
}

// execute drives one claimed job to completed, retry_scheduled, or
// dead_lettered. It never returns an error: every failure mode is absorbed
// into the job's state machine.
func (p *Pool) execute(ctx context.Context, job *domain.SyncJob) {
	attempt := job.RetryCount + 1
	log := p.log.With("job_id", job.JobID, "product_id", job.ProductID,
		"platform", job.Platform, "attempt", attempt)

	product, err := p.catalog.GetProduct(ctx, job.ProductID, job.OrganizationID)
	if err != nil {
		// A missing product fails the attempt immediately; there is nothing
		// to spin on.
		msg := err.Error()
		code := ""
		if errors.Is(err, platform.ErrProductNotFound) {
			msg = fmt.Sprintf("product not found: %s", job.ProductID)
			code = "NOT_FOUND"
		}
		log.Warn("Catalog lookup failed", "error", msg)
		p.appendLog(ctx, job, job.Platform, domain.SyncLogStatusFailed, attempt, nil, msg)
		p.handleFailure(ctx, job, attempt, msg, code)
		return
	}

	for _, target := range job.Platform.Expand() {
		result, err := p.performSync(ctx, product, target)
		if err != nil {
			log.Warn("Sync attempt failed", "target", target, "error", err)
			p.appendLog(ctx, job, target, domain.SyncLogStatusFailed, attempt, nil, err.Error())
			p.handleFailure(ctx, job, attempt, err.Error(), "")
			return
		}
		p.appendLog(ctx, job, target, domain.SyncLogStatusSuccess, attempt, map[string]string{
			"external_id": result.ExternalID,
			"price":       strconv.FormatFloat(result.Price, 'f', 2, 64),
			"seo_title":   result.SEOTitle,
		}, "")
	}

	p.markCompleted(ctx, job, attempt)
	log.Info("Job completed")
}

// performSync invokes the platform adapter, recovering panics into SYSTEM
// failures so a misbehaving adapter never kills a worker.
func (p *Pool) performSync(ctx context.Context, product *domain.Product, target domain.Platform) (result *platform.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in platform adapter: %v", r)
		}
	}()

	start := time.Now()
	result, err = p.adapter.PerformSync(ctx, product, target)
	metrics.AdapterLatency.WithLabelValues(string(target)).Observe(time.Since(start).Seconds())
	if err == nil && result == nil {
		err = errors.New("platform adapter returned no result")
	}
	return result, err
}

func (p *Pool) handleFailure(ctx context.Context, job *domain.SyncJob, attempt int, errMsg, errCode string) {
	decision := p.policy.Decide(errors.New(errMsg), attempt, job.Platform)

	if decision.Retry {
		if err := p.queue.Reschedule(ctx, job, decision.NextDelay, errMsg); err != nil {
			p.log.Error("Failed to reschedule job", "job_id", job.JobID, "error", err)
			return
		}
		metrics.RetriesScheduled.WithLabelValues(
			string(job.Platform), string(decision.Classification.Category)).Inc()
		p.publish(Event{
			Type:      EventJobRetryScheduled,
			JobID:     job.JobID,
			BatchID:   job.BatchID,
			ProductID: job.ProductID,
			Platform:  job.Platform,
			Attempt:   attempt,
			Error:     errMsg,
		})
		return
	}

	dlqID, err := p.dlq.Move(ctx, job, errMsg, errCode)
	if err != nil && !errors.Is(err, deadletter.ErrLogWriteFailed) {
		// No entry was stored, so the failure has no replay context yet.
		// Keep the job claimable and repeat the move on the next claim.
		p.log.Error("Failed to store dead letter entry", "job_id", job.JobID, "error", err)
		if derr := p.queue.Defer(ctx, job, p.cfg.DeadLetterRetry); derr != nil {
			p.log.Error("Failed to defer job after dead letter failure", "job_id", job.JobID, "error", derr)
		}
		return
	}
	if errors.Is(err, deadletter.ErrLogWriteFailed) {
		// Entry stored and the job still transitions; only the log row is
		// missing.
		p.log.Warn("Dead letter stored without log row", "job_id", job.JobID, "dlq_id", dlqID, "error", err)
	} else {
		p.log.Debug("Job handed to dead letter queue", "job_id", job.JobID, "dlq_id", dlqID)
	}

	job.Status = domain.JobStatusDeadLettered
	job.LastError = errMsg
	if err := p.jobs.Update(ctx, job); err != nil {
		p.log.Error("Failed to mark job dead-lettered", "job_id", job.JobID, "error", err)
	}
	metrics.JobsCompleted.WithLabelValues(string(job.Platform), "dead_lettered").Inc()
	p.publish(Event{
		Type:      EventJobDeadLettered,
		JobID:     job.JobID,
		BatchID:   job.BatchID,
		ProductID: job.ProductID,
		Platform:  job.Platform,
		Attempt:   attempt,
		Error:     errMsg,
	})
}

func (p *Pool) markCompleted(ctx context.Context, job *domain.SyncJob, attempt int) {
	job.Status = domain.JobStatusCompleted
	job.LastError = ""
	if err := p.jobs.Update(ctx, job); err != nil {
		p.log.Error("Failed to mark job completed", "job_id", job.JobID, "error", err)
	}
	metrics.JobsCompleted.WithLabelValues(string(job.Platform), "completed").Inc()
	p.publish(Event{
		Type:      EventJobCompleted,
		JobID:     job.JobID,
		BatchID:   job.BatchID,
		ProductID: job.ProductID,
		Platform:  job.Platform,
		Attempt:   attempt,
	})
}

// appendLog writes exactly one sync-log row for one attempt against one
// concrete platform.
func (p *Pool) appendLog(ctx context.Context, job *domain.SyncJob, target domain.Platform, status domain.SyncLogStatus, attempt int, response map[string]string, errMsg string) {
	entry := &domain.SyncLogEntry{
		BatchID:   job.BatchID,
		JobID:     job.JobID,
		ProductID: job.ProductID,
		Platform:  target,
		Status:    status,
		RequestPayload: map[string]string{
			"product_id": job.ProductID,
			"platform":   string(target),
		},
		ResponsePayload: response,
		ErrorMessage:    errMsg,
		Attempts:        attempt,
		SyncedAt:        time.Now().UTC(),
	}
	if err := p.syncLog.Append(ctx, entry); err != nil {
		// A log write failure is an infrastructure problem; it must never
		// discard the job's outcome.
		p.log.Error("Failed to append sync log", "job_id", job.JobID, "error", err)
	}
}

func (p *Pool) runCoordinator(ctx context.Context, id int) error {
	log := p.log.With("coordinator", id)
	ticker := time.NewTicker(p.cfg.CoordinatorPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Batch coordinator stopped")
			return nil
		case <-ticker.C:
		}

		job, found, err := p.queue.ClaimCoordinator(ctx)
		if err != nil {
			log.Error("Failed to claim coordinator job", "error", err)
			continue
		}
		if !found {
			continue
		}

		settled, status, err := p.queue.IsBatchSettled(ctx, job.BatchID)
		if err != nil {
			log.Error("Failed to check batch", "batch_id", job.BatchID, "error", err)
			if err := p.queue.Requeue(ctx, job, p.cfg.CoordinatorRequeue); err != nil {
				log.Error("Failed to requeue coordinator", "batch_id", job.BatchID, "error", err)
			}
			continue
		}

		if !settled {
			if err := p.queue.Requeue(ctx, job, p.cfg.CoordinatorRequeue); err != nil {
				log.Error("Failed to requeue coordinator", "batch_id", job.BatchID, "error", err)
			}
			continue
		}

		job.Status = domain.JobStatusCompleted
		if err := p.jobs.Update(ctx, job); err != nil {
			log.Error("Failed to complete coordinator", "batch_id", job.BatchID, "error", err)
		}
		log.Info("Batch settled", "batch_id", job.BatchID,
			"completed", status.Completed, "failed", status.Failed)
		p.publish(Event{
			Type:     EventBatchCompleted,
			BatchID:  job.BatchID,
			Platform: job.Platform,
		})
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
