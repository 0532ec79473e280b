package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/infra/storage/memory"
	"github.com/vuive/marketsync/internal/platform"
	"github.com/vuive/marketsync/internal/sync/deadletter"
	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/retry"
)

// fakeCatalog scripts per-call lookup outcomes the same way fakeAdapter
// scripts sync outcomes.
type fakeCatalog struct {
	mu      sync.Mutex
	missing map[string]bool
	calls   map[string]int
	fail    func(productID string, call int) error
}

func (f *fakeCatalog) GetProduct(ctx context.Context, productID, organizationID string) (*domain.Product, error) {
	f.mu.Lock()
	f.calls[productID]++
	call := f.calls[productID]
	f.mu.Unlock()

	if f.missing[productID] {
		return nil, platform.ErrProductNotFound
	}
	if f.fail != nil {
		if err := f.fail(productID, call); err != nil {
			return nil, err
		}
	}
	return &domain.Product{
		ID:             productID,
		OrganizationID: organizationID,
		SKU:            "SKU-" + productID,
		Name:           "Product " + productID,
		BasePrice:      19.99,
	}, nil
}

// fakeAdapter scripts per-call outcomes keyed by product and platform. A nil
// fail func means every call succeeds.
type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(productID string, p domain.Platform, call int) error
}

func newFakeAdapter(fail func(productID string, p domain.Platform, call int) error) *fakeAdapter {
	return &fakeAdapter{calls: make(map[string]int), fail: fail}
}

func (f *fakeAdapter) PerformSync(ctx context.Context, product *domain.Product, p domain.Platform) (*platform.SyncResult, error) {
	f.mu.Lock()
	key := product.ID + "|" + string(p)
	f.calls[key]++
	call := f.calls[key]
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(product.ID, p, call); err != nil {
			return nil, err
		}
	}
	return &platform.SyncResult{
		ExternalID: string(p) + "-" + product.ID,
		Price:      product.BasePrice,
		SEOTitle:   product.Name + " | Best Price",
	}, nil
}

func (f *fakeAdapter) callCount(productID string, p domain.Platform) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[productID+"|"+string(p)]
}

type harness struct {
	jobs    *memory.JobRepo
	logs    *memory.SyncLogRepo
	dead    *memory.DeadLetterRepo
	queue   *queue.Service
	dlq     *deadletter.Store
	pool    *Pool
	catalog *fakeCatalog
	adapter *fakeAdapter
	cancel  context.CancelFunc
}

func testPolicy() *retry.Policy {
	fast := retry.Config{
		MaxAttempts:       3,
		BaseDelay:         2 * time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	return retry.NewPolicy(map[domain.Platform]retry.Config{
		domain.PlatformShopee: fast,
		domain.PlatformTikTok: fast,
	}, fast)
}

func newHarness(t *testing.T, adapter *fakeAdapter) *harness {
	return newHarnessWith(t, adapter, nil)
}

// newHarnessWith optionally wraps the dead letter repository, for tests that
// inject storage failures.
func newHarnessWith(t *testing.T, adapter *fakeAdapter, wrapDead func(storage.DeadLetterRepository) storage.DeadLetterRepository) *harness {
	t.Helper()

	store := memory.NewStorage()
	jobs := memory.NewJobRepo(store)
	logs := memory.NewSyncLogRepo(store)
	dead := memory.NewDeadLetterRepo(store)

	policy := testPolicy()
	qcfg := queue.Config{
		StaggerDelay:      time.Millisecond,
		SchedulerInterval: 2 * time.Millisecond,
		SchedulerBatch:    100,
	}
	svc := queue.NewService(qcfg, jobs, queue.NewMemorySchedQueue(), policy)

	var deadRepo storage.DeadLetterRepository = dead
	if wrapDead != nil {
		deadRepo = wrapDead(dead)
	}
	dlq := deadletter.NewStore(deadRepo, logs, svc)

	catalog := &fakeCatalog{missing: make(map[string]bool), calls: make(map[string]int)}
	pool := NewPool(Config{
		JobWorkers:         2,
		BatchWorkers:       1,
		ClaimTimeout:       10 * time.Millisecond,
		IdleSleep:          2 * time.Millisecond,
		CoordinatorPoll:    5 * time.Millisecond,
		CoordinatorRequeue: 5 * time.Millisecond,
		DeadLetterRetry:    5 * time.Millisecond,
		EventBuffer:        256,
	}, svc, jobs, logs, dlq, policy, catalog, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.RunScheduler(ctx) }()
	go func() { _ = pool.Run(ctx) }()
	t.Cleanup(cancel)

	return &harness{
		jobs:    jobs,
		logs:    logs,
		dead:    dead,
		queue:   svc,
		dlq:     dlq,
		pool:    pool,
		catalog: catalog,
		adapter: adapter,
		cancel:  cancel,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolConvergesBatchAfterTransientFailure(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		if productID == "p2" && call == 1 {
			return errors.New("connection timeout")
		}
		return nil
	})
	h := newHarness(t, adapter)
	ctx := context.Background()

	ids, err := h.queue.AddBatchJobs(ctx, domain.BatchSyncJob{
		ProductIDs: []string{"p1", "p2", "p3"},
		Platform:   domain.PlatformShopee,
		BatchID:    "batch-1",
		CreatedBy:  "ops",
	})
	if err != nil {
		t.Fatalf("AddBatchJobs: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 job ids, got %d", len(ids))
	}

	waitFor(t, "batch to settle", func() bool {
		settled, _, err := h.queue.IsBatchSettled(ctx, "batch-1")
		return err == nil && settled
	})

	status, err := h.queue.GetBatchStatus(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatchStatus: %v", err)
	}
	if status.Completed != 3 || status.Failed != 0 {
		t.Fatalf("expected 3 completed / 0 failed, got %d / %d", status.Completed, status.Failed)
	}
	if status.State != queue.BatchStateCompleted {
		t.Fatalf("expected batch state %s, got %s", queue.BatchStateCompleted, status.State)
	}
	if status.Total != status.Completed+status.Failed+status.InProgress+status.Pending {
		t.Fatalf("count arithmetic broken: %+v", status)
	}

	// The transient failure consumed exactly one retry.
	for _, js := range status.Jobs {
		want := 0
		if js.ProductID == "p2" {
			want = 1
		}
		if js.RetryCount != want {
			t.Errorf("job %s: retry count = %d, want %d", js.ProductID, js.RetryCount, want)
		}
	}
	if got := adapter.callCount("p2", domain.PlatformShopee); got != 2 {
		t.Errorf("p2 adapter calls = %d, want 2", got)
	}

	// The coordinator eventually marks itself completed too.
	waitFor(t, "coordinator to complete", func() bool {
		all, err := h.jobs.ListByBatch(ctx, "batch-1")
		if err != nil {
			return false
		}
		for _, job := range all {
			if job.Kind == domain.JobKindCoordinator {
				return job.Status == domain.JobStatusCompleted
			}
		}
		return false
	})
}

func TestPoolDeadLettersAuthErrorImmediately(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		return errors.New("Invalid app key or secret")
	})
	h := newHarness(t, adapter)
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-auth",
		Platform:  domain.PlatformShopee,
		Priority:  domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to dead-letter", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusDeadLettered
	})

	if got := adapter.callCount("p-auth", domain.PlatformShopee); got != 1 {
		t.Errorf("adapter calls = %d, want 1 (auth errors never retry)", got)
	}

	stats, err := h.dlq.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalPending != 1 {
		t.Fatalf("expected 1 pending dead letter, got %d", stats.TotalPending)
	}
	entry := stats.Recent[0]
	if entry.Classification.Category != domain.ErrorCategoryAuthentication {
		t.Errorf("category = %s, want %s", entry.Classification.Category, domain.ErrorCategoryAuthentication)
	}
	if entry.TotalAttempts != 1 {
		t.Errorf("total attempts = %d, want 1", entry.TotalAttempts)
	}
	if !strings.Contains(entry.FailureReason, "non-retryable") {
		t.Errorf("failure reason = %q, want non-retryable", entry.FailureReason)
	}
	if entry.Priority != 0 {
		t.Errorf("remediation priority = %d, want 0 for critical severity", entry.Priority)
	}
	if entry.OriginalJob.ProductID != "p-auth" {
		t.Errorf("original job product = %q, want p-auth", entry.OriginalJob.ProductID)
	}
}

func TestPoolExhaustsRetryBudget(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		return errors.New("connection reset by peer")
	})
	h := newHarness(t, adapter)
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-flaky",
		Platform:  domain.PlatformTikTok,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to dead-letter", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusDeadLettered
	})

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// The final attempt dead-letters instead of scheduling another retry.
	if job.RetryCount != job.MaxAttempts-1 {
		t.Errorf("retry count = %d, want %d", job.RetryCount, job.MaxAttempts-1)
	}
	if got := adapter.callCount("p-flaky", domain.PlatformTikTok); got != job.MaxAttempts {
		t.Errorf("adapter calls = %d, want %d", got, job.MaxAttempts)
	}

	entries, err := h.dead.List(ctx, storage.DeadLetterFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 dead letter entry, got %d", len(entries))
	}
	if !strings.Contains(entries[0].FailureReason, "max attempts exceeded") {
		t.Errorf("failure reason = %q, want exhausted budget", entries[0].FailureReason)
	}

	// One failed log row per attempt, plus one row tagged with the DLQ move.
	rows, err := h.logs.ListByProduct(ctx, "p-flaky", domain.PlatformTikTok)
	if err != nil {
		t.Fatalf("ListByProduct: %v", err)
	}
	attempts, moved := 0, 0
	for _, row := range rows {
		if row.MovedToDLQ {
			moved++
			continue
		}
		attempts++
		if row.Status != domain.SyncLogStatusFailed {
			t.Errorf("attempt row status = %s, want failed", row.Status)
		}
	}
	if attempts != job.MaxAttempts {
		t.Errorf("attempt log rows = %d, want %d", attempts, job.MaxAttempts)
	}
	if moved != 1 {
		t.Errorf("dlq-tagged log rows = %d, want 1", moved)
	}
}

func TestPoolFansOutBothPlatforms(t *testing.T) {
	adapter := newFakeAdapter(nil)
	h := newHarness(t, adapter)
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-both",
		Platform:  domain.PlatformBoth,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to complete", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusCompleted
	})

	for _, p := range []domain.Platform{domain.PlatformShopee, domain.PlatformTikTok} {
		if got := adapter.callCount("p-both", p); got != 1 {
			t.Errorf("%s adapter calls = %d, want 1", p, got)
		}
		rows, err := h.logs.ListByProduct(ctx, "p-both", p)
		if err != nil {
			t.Fatalf("ListByProduct(%s): %v", p, err)
		}
		if len(rows) != 1 {
			t.Fatalf("%s log rows = %d, want 1", p, len(rows))
		}
		if rows[0].Status != domain.SyncLogStatusSuccess {
			t.Errorf("%s log status = %s, want success", p, rows[0].Status)
		}
		if rows[0].ResponsePayload["external_id"] == "" {
			t.Errorf("%s log missing external_id", p)
		}
	}
}

func TestPoolFailsMissingProductWithoutRetry(t *testing.T) {
	adapter := newFakeAdapter(nil)
	h := newHarness(t, adapter)
	h.catalog.missing["p-gone"] = true
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-gone",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to dead-letter", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusDeadLettered
	})

	if got := adapter.callCount("p-gone", domain.PlatformShopee); got != 0 {
		t.Errorf("adapter calls = %d, want 0 for a missing product", got)
	}
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(job.LastError, "product not found") {
		t.Errorf("last error = %q, want product not found", job.LastError)
	}
}

func TestPoolLogsFailedAttemptOnCatalogError(t *testing.T) {
	adapter := newFakeAdapter(nil)
	h := newHarness(t, adapter)
	h.catalog.fail = func(productID string, call int) error {
		if productID == "p-cat" && call == 1 {
			return errors.New("connection timeout reading catalog")
		}
		return nil
	}
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-cat",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to complete after catalog recovers", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusCompleted
	})

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", job.RetryCount)
	}

	// Exactly one row per attempt: the catalog failure and the retry.
	rows, err := h.logs.ListByProduct(ctx, "p-cat", domain.PlatformShopee)
	if err != nil {
		t.Fatalf("ListByProduct: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("log rows = %d, want 2", len(rows))
	}
	var failed, succeeded *domain.SyncLogEntry
	for _, row := range rows {
		switch row.Status {
		case domain.SyncLogStatusFailed:
			failed = row
		case domain.SyncLogStatusSuccess:
			succeeded = row
		}
	}
	if failed == nil || succeeded == nil {
		t.Fatalf("want one failed and one success row, got %+v", rows)
	}
	if !strings.Contains(failed.ErrorMessage, "catalog") {
		t.Errorf("failed row error = %q, want catalog failure", failed.ErrorMessage)
	}
	if failed.Attempts != 1 || succeeded.Attempts != 2 {
		t.Errorf("attempts = %d/%d, want 1/2", failed.Attempts, succeeded.Attempts)
	}
}

// flakyDeadRepo fails the first N inserts, then delegates.
type flakyDeadRepo struct {
	storage.DeadLetterRepository
	mu       sync.Mutex
	failures int
	inserts  int
}

func (f *flakyDeadRepo) Insert(ctx context.Context, dlj *domain.DeadLetterJob) error {
	f.mu.Lock()
	f.inserts++
	n := f.inserts
	f.mu.Unlock()
	if n <= f.failures {
		return errors.New("insert failed: connection refused")
	}
	return f.DeadLetterRepository.Insert(ctx, dlj)
}

func (f *flakyDeadRepo) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func TestPoolKeepsJobClaimableWhenDeadLetterStoreFails(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		return errors.New("Invalid app key or secret")
	})
	var flaky *flakyDeadRepo
	h := newHarnessWith(t, adapter, func(inner storage.DeadLetterRepository) storage.DeadLetterRepository {
		flaky = &flakyDeadRepo{DeadLetterRepository: inner, failures: 1}
		return flaky
	})
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-dlq",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	waitFor(t, "job to dead-letter after store recovers", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusDeadLettered
	})

	// The first insert failed, so the terminal transition waited for a
	// second claim that stored the entry.
	if got := flaky.insertCount(); got < 2 {
		t.Errorf("insert attempts = %d, want at least 2", got)
	}
	entries, err := h.dead.List(ctx, storage.DeadLetterFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 dead letter entry, got %d", len(entries))
	}
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Waiting out a store failure never consumes retry budget.
	if job.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", job.RetryCount)
	}
}

func TestPoolRecoverAdapterPanic(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		panic("adapter exploded")
	})
	h := newHarness(t, adapter)
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-panic",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	// Panics classify as SYSTEM and retry until the budget runs out; the
	// important part is that workers survive and the job terminates.
	waitFor(t, "job to dead-letter", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusDeadLettered
	})

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(job.LastError, "panic in platform adapter") {
		t.Errorf("last error = %q, want recovered panic", job.LastError)
	}
}

func TestPoolEmitsLifecycleEvents(t *testing.T) {
	adapter := newFakeAdapter(func(productID string, p domain.Platform, call int) error {
		if call == 1 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	h := newHarness(t, adapter)
	ctx := context.Background()

	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-evt",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	seen := make(map[EventType]bool)
	deadline := time.After(5 * time.Second)
	for !seen[EventJobCompleted] {
		select {
		case evt := <-h.pool.Events():
			if evt.JobID == jobID {
				seen[evt.Type] = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
	if !seen[EventJobRetryScheduled] {
		t.Errorf("expected a retry-scheduled event before completion")
	}
}

func TestPoolPausedQueueClaimsNothing(t *testing.T) {
	adapter := newFakeAdapter(nil)
	h := newHarness(t, adapter)
	ctx := context.Background()

	if err := h.queue.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	jobID, err := h.queue.AddSyncJob(ctx, queue.SubmitRequest{
		ProductID: "p-paused",
		Platform:  domain.PlatformShopee,
	})
	if err != nil {
		t.Fatalf("AddSyncJob: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("paused queue ran a job: status = %s", job.Status)
	}

	if err := h.queue.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "job to complete after resume", func() bool {
		job, err := h.jobs.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusCompleted
	})
}
