package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
)

// Storage backs every repository with mutex-guarded maps. Used in dev mode
// (no database configured) and throughout the test suite.
type Storage struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.SyncJob
	dead  map[string]*domain.DeadLetterJob
	logs  []*domain.SyncLogEntry
	logID int
}

func NewStorage() *Storage {
	return &Storage{
		jobs: make(map[string]*domain.SyncJob),
		dead: make(map[string]*domain.DeadLetterJob),
	}
}

// -----------------------------------------------------------------------------
// Job repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *Storage
}

func NewJobRepo(store *Storage) *JobRepo { return &JobRepo{store: store} }

func (r *JobRepo) Insert(ctx context.Context, job *domain.SyncJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := cloneJob(job)
	r.store.jobs[job.JobID] = cp
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	job, ok := r.store.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepo) Update(ctx context.Context, job *domain.SyncJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.JobID]; !ok {
		return storage.ErrJobNotFound
	}
	cp := cloneJob(job)
	cp.UpdatedAt = time.Now().UTC()
	r.store.jobs[job.JobID] = cp
	return nil
}

func (r *JobRepo) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	job, ok := r.store.jobs[jobID]
	if !ok {
		return false, storage.ErrJobNotFound
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *JobRepo) NextDueCoordinator(ctx context.Context, now time.Time) (*domain.SyncJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var next *domain.SyncJob
	for _, job := range r.store.jobs {
		if job.Kind != domain.JobKindCoordinator {
			continue
		}
		if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRetryScheduled {
			continue
		}
		if job.AvailableAt.After(now) {
			continue
		}
		if next == nil || job.AvailableAt.Before(next.AvailableAt) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	return cloneJob(next), nil
}

func (r *JobRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.SyncJob
	for _, job := range r.store.jobs {
		if job.BatchID == batchID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[domain.JobStatus]int)
	for _, job := range r.store.jobs {
		out[job.Status]++
	}
	return out, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	removed := 0
	for id, job := range r.store.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.store.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func cloneJob(job *domain.SyncJob) *domain.SyncJob {
	cp := *job
	if job.Metadata != nil {
		cp.Metadata = make(map[string]string, len(job.Metadata))
		for k, v := range job.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// -----------------------------------------------------------------------------
// Dead-letter repository
// -----------------------------------------------------------------------------

type DeadLetterRepo struct {
	store *Storage
}

func NewDeadLetterRepo(store *Storage) *DeadLetterRepo { return &DeadLetterRepo{store: store} }

func (r *DeadLetterRepo) Insert(ctx context.Context, dlj *domain.DeadLetterJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *dlj
	r.store.dead[dlj.ID] = &cp
	return nil
}

func (r *DeadLetterRepo) Get(ctx context.Context, id string) (*domain.DeadLetterJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	dlj, ok := r.store.dead[id]
	if !ok {
		return nil, storage.ErrDeadLetterNotFound
	}
	cp := *dlj
	return &cp, nil
}

func (r *DeadLetterRepo) List(ctx context.Context, f storage.DeadLetterFilter) ([]*domain.DeadLetterJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.DeadLetterJob
	for _, dlj := range r.store.dead {
		if f.Platform != "" && dlj.Platform != f.Platform {
			continue
		}
		if f.Category != "" && dlj.Classification.Category != f.Category {
			continue
		}
		if f.BatchID != "" && dlj.BatchID != f.BatchID {
			continue
		}
		if f.Status != "" && dlj.Status != f.Status {
			continue
		}
		cp := *dlj
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].FailedAt.After(out[j].FailedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *DeadLetterRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	dlj, ok := r.store.dead[id]
	if !ok {
		return storage.ErrDeadLetterNotFound
	}
	dlj.Status = domain.DeadLetterStatusResolved
	return nil
}

func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	removed := 0
	for id, dlj := range r.store.dead {
		if dlj.FailedAt.Before(cutoff) {
			delete(r.store.dead, id)
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Sync log repository
// -----------------------------------------------------------------------------

type SyncLogRepo struct {
	store *Storage
}

func NewSyncLogRepo(store *Storage) *SyncLogRepo { return &SyncLogRepo{store: store} }

func (r *SyncLogRepo) Append(ctx context.Context, entry *domain.SyncLogEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *entry
	r.store.logID++
	if cp.ID == "" {
		cp.ID = "log-" + strconv.Itoa(r.store.logID)
	}
	r.store.logs = append(r.store.logs, &cp)
	return nil
}

func (r *SyncLogRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.SyncLogEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.SyncLogEntry
	for _, e := range r.store.logs {
		if e.BatchID == batchID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *SyncLogRepo) ListByProduct(ctx context.Context, productID string, platform domain.Platform) ([]*domain.SyncLogEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.SyncLogEntry
	for _, e := range r.store.logs {
		if e.ProductID == productID && (platform == "" || e.Platform == platform) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *SyncLogRepo) CountOutcomesSince(ctx context.Context, since time.Time) (int, int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var succeeded, failed int
	for _, e := range r.store.logs {
		if e.SyncedAt.Before(since) {
			continue
		}
		if e.Status == domain.SyncLogStatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed, nil
}
