package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key helpers
const (
	readyKey  = "sync:queue"
	delayKey  = "sync:delay"
	pausedKey = "sync:paused"
)

// SchedQueue is the hot scheduling queue: a ready list consumed with
// blocking pops plus a delay ZSET scored by availability time. The job rows
// themselves live in the durable store; only ids travel through Redis.
type SchedQueue struct {
	rdb *redis.Client
}

// NewSchedQueue creates a scheduling queue on an existing client.
func NewSchedQueue(client *Client) *SchedQueue {
	return &SchedQueue{rdb: client.rdb}
}

// PushReady makes a job immediately claimable. High-priority jobs jump to
// the consuming end of the list; priority is a soft hint, not a strict
// total order.
func (q *SchedQueue) PushReady(ctx context.Context, jobID string, weight int) error {
	var err error
	if weight >= 10 {
		err = q.rdb.RPush(ctx, readyKey, jobID).Err()
	} else {
		err = q.rdb.LPush(ctx, readyKey, jobID).Err()
	}
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

// PushDelayed parks a job until availableAt.
func (q *SchedQueue) PushDelayed(ctx context.Context, jobID string, availableAt time.Time) error {
	err := q.rdb.ZAdd(ctx, delayKey, redis.Z{
		Score:  float64(availableAt.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopReady blocks up to timeout for the next claimable job id. Returns
// found=false on timeout.
func (q *SchedQueue) PopReady(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, readyKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("brpop failed: %w", err)
	}
	if len(res) != 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// MoveDue promotes delayed jobs whose availability time has passed onto the
// ready list. Returns the number moved.
func (q *SchedQueue) MoveDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, delayKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey, id)
		pipe.ZRem(ctx, delayKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("pipeline failed: %w", err)
	}
	return len(ids), nil
}

// SetPaused flips the shared pause flag observed by all workers.
func (q *SchedQueue) SetPaused(ctx context.Context, paused bool) error {
	if paused {
		return q.rdb.Set(ctx, pausedKey, "1", 0).Err()
	}
	return q.rdb.Del(ctx, pausedKey).Err()
}

// IsPaused reports whether claims are halted.
func (q *SchedQueue) IsPaused(ctx context.Context) (bool, error) {
	_, err := q.rdb.Get(ctx, pausedKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get failed: %w", err)
	}
	return true, nil
}

// Depths returns the ready-list and delay-set sizes, for stats and metrics.
func (q *SchedQueue) Depths(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.rdb.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen failed: %w", err)
	}
	delayed, err = q.rdb.ZCard(ctx, delayKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("zcard failed: %w", err)
	}
	return ready, delayed, nil
}
