package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySchedQueue is an in-process SchedQueue used in dev mode (no Redis
// configured) and in tests. Ordering matches the Redis implementation:
// weight is a soft hint, FIFO within a tier.
type MemorySchedQueue struct {
	mu      sync.Mutex
	ready   []memEntry
	delayed map[string]time.Time
	paused  bool
	seq     uint64
	wake    chan struct{}
}

type memEntry struct {
	jobID  string
	weight int
	seq    uint64
}

// NewMemorySchedQueue creates an empty in-memory scheduling queue.
func NewMemorySchedQueue() *MemorySchedQueue {
	return &MemorySchedQueue{
		delayed: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
	}
}

func (q *MemorySchedQueue) PushReady(ctx context.Context, jobID string, weight int) error {
	q.mu.Lock()
	q.seq++
	q.ready = append(q.ready, memEntry{jobID: jobID, weight: weight, seq: q.seq})
	sort.SliceStable(q.ready, func(i, j int) bool {
		if q.ready[i].weight != q.ready[j].weight {
			return q.ready[i].weight > q.ready[j].weight
		}
		return q.ready[i].seq < q.ready[j].seq
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemorySchedQueue) PushDelayed(ctx context.Context, jobID string, availableAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[jobID] = availableAt
	return nil
}

func (q *MemorySchedQueue) PopReady(ctx context.Context, timeout time.Duration) (string, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			entry := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return entry.jobID, true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			return "", false, nil
		case <-q.wake:
		}
	}
}

func (q *MemorySchedQueue) MoveDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	q.mu.Lock()
	var due []string
	for jobID, at := range q.delayed {
		if !at.After(now) {
			due = append(due, jobID)
			if int64(len(due)) >= batch {
				break
			}
		}
	}
	for _, jobID := range due {
		delete(q.delayed, jobID)
	}
	q.mu.Unlock()

	sort.Strings(due)
	for _, jobID := range due {
		if err := q.PushReady(ctx, jobID, 1); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

func (q *MemorySchedQueue) SetPaused(ctx context.Context, paused bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
	return nil
}

func (q *MemorySchedQueue) IsPaused(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, nil
}

func (q *MemorySchedQueue) Depths(ctx context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), int64(len(q.delayed)), nil
}
