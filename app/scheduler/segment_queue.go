// Package scheduler runs segment recomputations in the background
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	ErrQueueStopped  = errors.New("segment queue is stopped")
	ErrSegmentLocked = errors.New("segment is being recomputed by another instance")
)

var queueInflight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "segment_queue_inflight",
	Help: "Segment recomputations queued or running in this instance",
})

// Recomputer runs one recomputation of a segment
type Recomputer interface {
	Run(ctx context.Context, segmentID uint) error
}

type queueTask struct {
	id        string
	cancel    context.CancelFunc
	rerun     bool
	cancelled bool
}

// SegmentQueue keeps at most one task per segment. A trigger that arrives while
// the segment is running is coalesced into a single rerun.
type SegmentQueue struct {
	runner  Recomputer
	locker  SegmentLocker
	sem     *semaphore.Weighted
	timeout time.Duration
	lockTTL time.Duration
	logger  *log.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[uint]*queueTask
	closed bool
}

func NewSegmentQueue(runner Recomputer, locker SegmentLocker, concurrency int, timeout, lockTTL time.Duration, logger *log.Logger) *SegmentQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if lockTTL < timeout {
		lockTTL = timeout
	}
	base, stop := context.WithCancel(context.Background())
	return &SegmentQueue{
		runner:  runner,
		locker:  locker,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		lockTTL: lockTTL,
		logger:  logger,
		base:    base,
		stop:    stop,
		tasks:   make(map[uint]*queueTask),
	}
}

// Enqueue schedules a recomputation and returns immediately
func (q *SegmentQueue) Enqueue(segmentID uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueStopped
	}
	if t, ok := q.tasks[segmentID]; ok {
		t.rerun = true
		return nil
	}
	q.startLocked(segmentID)
	return nil
}

// Cancel aborts the segment's task and drops a pending rerun
func (q *SegmentQueue) Cancel(segmentID uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[segmentID]
	if !ok {
		return false
	}
	t.rerun = false
	t.cancelled = true
	t.cancel()
	return true
}

// InFlight reports whether the segment has a queued or running task
func (q *SegmentQueue) InFlight(segmentID uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tasks[segmentID]
	return ok
}

// Stop cancels every task and waits for them to return
func (q *SegmentQueue) Stop() {
	q.mu.Lock()
	q.closed = true
	for _, t := range q.tasks {
		t.rerun = false
		t.cancel()
	}
	q.mu.Unlock()

	q.stop()
	q.wg.Wait()
}

func (q *SegmentQueue) startLocked(segmentID uint) {
	ctx, cancel := context.WithCancel(q.base)
	t := &queueTask{id: uuid.NewString(), cancel: cancel}
	q.tasks[segmentID] = t
	queueInflight.Inc()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()
		err := q.execute(ctx, segmentID, t.id)
		q.complete(segmentID, t.id, err)
	}()
}

func (q *SegmentQueue) execute(ctx context.Context, segmentID uint, taskID string) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if q.locker != nil {
		ok, err := q.locker.Acquire(ctx, segmentID, taskID, q.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSegmentLocked
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := q.locker.Release(releaseCtx, segmentID, taskID); err != nil {
				q.logger.Printf("segment %d: release lock: %v", segmentID, err)
			}
		}()
	}

	return q.runner.Run(ctx, segmentID)
}

// complete is idempotent per task id; a stale completion never clears a newer task
func (q *SegmentQueue) complete(segmentID uint, taskID string, err error) {
	q.mu.Lock()
	t, ok := q.tasks[segmentID]
	if !ok || t.id != taskID {
		q.mu.Unlock()
		return
	}
	delete(q.tasks, segmentID)
	queueInflight.Dec()
	if t.rerun && !t.cancelled && !q.closed {
		q.startLocked(segmentID)
	}
	cancelled := t.cancelled
	q.mu.Unlock()

	switch {
	case err == nil:
	case cancelled && errors.Is(err, context.Canceled):
		q.logger.Printf("segment %d: recomputation cancelled", segmentID)
	case errors.Is(err, ErrSegmentLocked):
		q.logger.Printf("segment %d: skipped, %v", segmentID, err)
	default:
		q.logger.Printf("segment %d: recomputation failed: %v", segmentID, err)
	}
}
