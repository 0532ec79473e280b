package deadletter

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/infra/storage/memory"
	"github.com/vuive/marketsync/internal/sync/queue"
	"github.com/vuive/marketsync/internal/sync/retry"
)

type fixture struct {
	store *Store
	dead  *memory.DeadLetterRepo
	logs  *memory.SyncLogRepo
	jobs  *memory.JobRepo
	queue *queue.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStorage()
	jobs := memory.NewJobRepo(mem)
	logs := memory.NewSyncLogRepo(mem)
	dead := memory.NewDeadLetterRepo(mem)
	svc := queue.NewService(queue.DefaultConfig(), jobs, queue.NewMemorySchedQueue(), retry.NewDefaultPolicy())
	return &fixture{
		store: NewStore(dead, logs, svc),
		dead:  dead,
		logs:  logs,
		jobs:  jobs,
		queue: svc,
	}
}

func failedJob(product string, p domain.Platform, retries int) *domain.SyncJob {
	return &domain.SyncJob{
		JobID:       domain.NewJobID(product, p, "", 1),
		Kind:        domain.JobKindSync,
		ProductID:   product,
		Platform:    p,
		Priority:    domain.PriorityNormal,
		Weight:      domain.PriorityNormal.Weight(),
		RetryCount:  retries,
		MaxAttempts: retries + 1,
		Status:      domain.JobStatusActive,
		Metadata:    map[string]string{"source": "import"},
	}
}

func TestMoveStoresEntryAndLogRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := failedJob("p1", domain.PlatformShopee, 2)
	dlqID, err := f.store.Move(ctx, job, "connection timeout", "")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}

	entry, err := f.dead.Get(ctx, dlqID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.OriginalJobID != job.JobID {
		t.Errorf("original job id = %q, want %q", entry.OriginalJobID, job.JobID)
	}
	if entry.TotalAttempts != 3 {
		t.Errorf("total attempts = %d, want 3", entry.TotalAttempts)
	}
	if entry.Classification.Category != domain.ErrorCategoryNetwork {
		t.Errorf("category = %s, want %s", entry.Classification.Category, domain.ErrorCategoryNetwork)
	}
	if !strings.Contains(entry.FailureReason, "max attempts exceeded") {
		t.Errorf("failure reason = %q", entry.FailureReason)
	}
	if entry.OriginalJob.Metadata["source"] != "import" {
		t.Error("original job snapshot lost metadata")
	}

	rows, err := f.logs.ListByProduct(ctx, "p1", domain.PlatformShopee)
	if err != nil {
		t.Fatalf("ListByProduct: %v", err)
	}
	if len(rows) != 1 || !rows[0].MovedToDLQ {
		t.Fatalf("expected one dlq-tagged log row, got %+v", rows)
	}
}

func TestMoveReasonFollowsRetryability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := failedJob("p2", domain.PlatformTikTok, 0)
	dlqID, err := f.store.Move(ctx, job, "Invalid app key or secret", "401")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	entry, err := f.dead.Get(ctx, dlqID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(entry.FailureReason, "non-retryable error: AUTHENTICATION") {
		t.Errorf("failure reason = %q", entry.FailureReason)
	}
	// Critical severity remediates first.
	if entry.Priority != 0 {
		t.Errorf("priority = %d, want 0", entry.Priority)
	}
}

func TestRetryResubmitsWithFreshBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := failedJob("p3", domain.PlatformShopee, 4)
	dlqID, err := f.store.Move(ctx, job, "quota exceeded", "429")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}

	result, err := f.store.Retry(ctx, dlqID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !result.Success || result.NewJobID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.NewJobID == job.JobID {
		t.Error("retry reused the failed job id")
	}

	fresh, err := f.jobs.Get(ctx, result.NewJobID)
	if err != nil {
		t.Fatalf("Get new job: %v", err)
	}
	if fresh.RetryCount != 0 {
		t.Errorf("new job retry count = %d, want 0", fresh.RetryCount)
	}
	if fresh.Metadata["dlq_retry"] != "true" {
		t.Error("new job not tagged as dlq retry")
	}
	if fresh.Metadata["original_job_id"] != job.JobID {
		t.Errorf("original_job_id = %q, want %q", fresh.Metadata["original_job_id"], job.JobID)
	}
	if fresh.Metadata["source"] != "import" {
		t.Error("original metadata dropped on resubmit")
	}

	entry, err := f.dead.Get(ctx, dlqID)
	if err != nil {
		t.Fatalf("Get entry: %v", err)
	}
	if entry.Status != domain.DeadLetterStatusResolved {
		t.Errorf("entry status = %s, want resolved", entry.Status)
	}

	// A resolved entry cannot be retried twice.
	if _, err := f.store.Retry(ctx, dlqID); err == nil {
		t.Error("expected error retrying a resolved entry")
	}
}

func TestBulkRetryFiltersAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		job := failedJob(fmt.Sprintf("shopee-%d", i), domain.PlatformShopee, 1)
		if _, err := f.store.Move(ctx, job, "connection timeout", ""); err != nil {
			t.Fatalf("Move: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		job := failedJob(fmt.Sprintf("tiktok-%d", i), domain.PlatformTikTok, 1)
		if _, err := f.store.Move(ctx, job, "connection timeout", ""); err != nil {
			t.Fatalf("Move: %v", err)
		}
	}

	result, err := f.store.BulkRetry(ctx, BulkRetryFilter{
		Platform: domain.PlatformShopee,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("BulkRetry: %v", err)
	}
	if result.RetriedCount != 10 || result.FailedCount != 0 {
		t.Fatalf("retried=%d failed=%d, want 10/0", result.RetriedCount, result.FailedCount)
	}

	remaining, err := f.dead.List(ctx, storage.DeadLetterFilter{
		Platform: domain.PlatformShopee,
		Status:   domain.DeadLetterStatusPending,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 5 {
		t.Errorf("remaining shopee pending = %d, want 5", len(remaining))
	}
	untouched, err := f.dead.List(ctx, storage.DeadLetterFilter{
		Platform: domain.PlatformTikTok,
		Status:   domain.DeadLetterStatusPending,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(untouched) != 5 {
		t.Errorf("tiktok entries touched: %d pending, want 5", len(untouched))
	}
}

func TestGetStatsAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	moves := []struct {
		product  string
		platform domain.Platform
		errMsg   string
	}{
		{"p1", domain.PlatformShopee, "connection timeout"},
		{"p2", domain.PlatformShopee, "Invalid app key or secret"},
		{"p3", domain.PlatformTikTok, "invalid sku"},
	}
	for _, m := range moves {
		job := failedJob(m.product, m.platform, 1)
		if _, err := f.store.Move(ctx, job, m.errMsg, ""); err != nil {
			t.Fatalf("Move: %v", err)
		}
	}
	// Two successes alongside the three DLQ failure rows: rate 3/5.
	for i := 0; i < 2; i++ {
		if err := f.logs.Append(ctx, &domain.SyncLogEntry{
			JobID:     fmt.Sprintf("ok-%d", i),
			ProductID: fmt.Sprintf("ok-%d", i),
			Platform:  domain.PlatformShopee,
			Status:    domain.SyncLogStatusSuccess,
			SyncedAt:  time.Now().UTC(),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats, err := f.store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalPending != 3 {
		t.Errorf("total pending = %d, want 3", stats.TotalPending)
	}
	if stats.ByPlatform[domain.PlatformShopee] != 2 || stats.ByPlatform[domain.PlatformTikTok] != 1 {
		t.Errorf("by platform = %v", stats.ByPlatform)
	}
	if stats.ByCategory[domain.ErrorCategoryNetwork] != 1 ||
		stats.ByCategory[domain.ErrorCategoryAuthentication] != 1 ||
		stats.ByCategory[domain.ErrorCategoryValidation] != 1 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if len(stats.Recent) != 3 {
		t.Errorf("recent = %d entries, want 3", len(stats.Recent))
	}
	if want := 3.0 / 5.0; stats.FailureRate != want {
		t.Errorf("failure rate = %v, want %v", stats.FailureRate, want)
	}
}

func TestCleanupPurgesOldEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ages := []int{10, 40, 400}
	for i, days := range ages {
		dlj := &domain.DeadLetterJob{
			ID:            fmt.Sprintf("dlq-%d", i),
			OriginalJobID: fmt.Sprintf("job-%d", i),
			Platform:      domain.PlatformShopee,
			FailedAt:      time.Now().UTC().AddDate(0, 0, -days),
			Status:        domain.DeadLetterStatusPending,
		}
		if err := f.dead.Insert(ctx, dlj); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	removed, err := f.store.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := f.dead.Get(ctx, "dlq-0"); err != nil {
		t.Error("cleanup removed an entry inside the retention window")
	}
}
