// Package retryqueue buffers attendance scans that could not be committed
// and replays them once the remote API is reachable again.
//
// The queue lives in memory only. A restart drops whatever is pending.
package retryqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/remote"
)

// Queue is a bounded FIFO of pending scans. All methods are safe for
// concurrent use. At most one pass runs at a time.
type Queue struct {
	committer   Committer
	log         logrus.FieldLogger
	recorder    Recorder
	onAbandoned func(Abandoned)

	maxSize     int
	maxRetries  int
	replayDelay time.Duration

	mu              sync.Mutex
	items           []QueuedOperation
	isSyncing       bool
	lastSyncAttempt time.Time

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New creates an empty queue replaying through committer.
func New(committer Committer, cfg config.RetryQueueConfig, log logrus.FieldLogger, opts Options) *Queue {
	q := &Queue{
		committer:   committer,
		log:         log.WithField("component", "retryqueue"),
		recorder:    opts.Recorder,
		onAbandoned: opts.OnAbandoned,
		maxSize:     cfg.MaxSize,
		maxRetries:  cfg.MaxRetries,
		replayDelay: cfg.ReplayDelay,
		now:         time.Now,
		pause:       sleep,
		newID:       newOperationID,
	}
	if q.maxSize <= 0 {
		q.maxSize = 100
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.replayDelay < 0 {
		q.replayDelay = 0
	}
	return q
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newOperationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Enqueue appends a scan and returns its operation id. When the queue is
// full the oldest entry is evicted first.
func (q *Queue) Enqueue(tag string, action remote.Action, roomID int64, pin string) string {
	op := QueuedOperation{
		ID:         q.newID(),
		Tag:        tag,
		Action:     action,
		RoomID:     roomID,
		Pin:        pin,
		EnqueuedAt: q.now(),
		MaxRetries: q.maxRetries,
	}

	q.mu.Lock()
	var evicted *QueuedOperation
	if len(q.items) >= q.maxSize {
		oldest := q.items[0]
		evicted = &oldest
		q.items = append(q.items[:0:0], q.items[1:]...)
	}
	q.items = append(q.items, op)
	length := len(q.items)
	q.mu.Unlock()

	if evicted != nil {
		q.log.WithFields(logrus.Fields{
			"evicted_id":  evicted.ID,
			"evicted_tag": evicted.Tag,
			"max_size":    q.maxSize,
		}).Warn("retry queue full, dropped oldest operation")
	}
	q.log.WithFields(logrus.Fields{
		"id":     op.ID,
		"tag":    tag,
		"action": action,
		"queued": length,
	}).Info("scan queued for retry")
	q.recordLength(length)
	return op.ID
}

// ProcessQueue replays every operation queued when it starts, in order.
// It returns immediately when another pass is running or the queue is empty.
// Operations enqueued during the pass wait for the next one. Replay errors
// are folded into the tallies; ProcessQueue itself never fails.
func (q *Queue) ProcessQueue(ctx context.Context) Result {
	q.mu.Lock()
	if q.isSyncing || len(q.items) == 0 {
		res := Result{Remaining: len(q.items)}
		q.mu.Unlock()
		return res
	}
	q.isSyncing = true
	q.lastSyncAttempt = q.now()
	snapshot := make([]QueuedOperation, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.isSyncing = false
		q.mu.Unlock()
	}()

	log := q.log.WithField("snapshot", len(snapshot))
	log.Info("retry pass started")

	var (
		res       Result
		done      = make(map[string]bool)
		retries   = make(map[string]int)
		abandoned []Abandoned
	)
	for i, op := range snapshot {
		if i > 0 {
			if err := q.pause(ctx, q.replayDelay); err != nil {
				log.WithError(err).Warn("retry pass interrupted")
				break
			}
		} else if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("retry pass interrupted")
			break
		}

		res.Processed++
		err := q.replay(ctx, op)
		opLog := log.WithFields(logrus.Fields{"id": op.ID, "tag": op.Tag})
		if err == nil {
			done[op.ID] = true
			res.Successful++
			opLog.WithField("retry_count", op.RetryCount).Info("queued scan committed")
			q.recordReplay(ReplaySuccess)
			continue
		}

		op.RetryCount++
		if op.RetryCount >= op.MaxRetries || remote.IsPermanent(err) {
			done[op.ID] = true
			res.Failed++
			abandoned = append(abandoned, Abandoned{Operation: op, Err: err})
			opLog.WithError(err).WithField("retry_count", op.RetryCount).Error("queued scan abandoned")
			q.recordReplay(ReplayAbandoned)
			continue
		}
		retries[op.ID] = op.RetryCount
		opLog.WithError(err).WithField("retry_count", op.RetryCount).Warn("queued scan failed, will retry")
		q.recordReplay(ReplayRetry)
	}

	q.mu.Lock()
	survivors := q.items[:0:0]
	for _, op := range q.items {
		if done[op.ID] {
			continue
		}
		if n, ok := retries[op.ID]; ok {
			op.RetryCount = n
		}
		survivors = append(survivors, op)
	}
	q.items = survivors
	res.Remaining = len(q.items)
	q.mu.Unlock()

	log.WithFields(logrus.Fields{
		"processed":  res.Processed,
		"successful": res.Successful,
		"failed":     res.Failed,
		"remaining":  res.Remaining,
	}).Info("retry pass finished")
	q.recordLength(res.Remaining)

	if q.onAbandoned != nil {
		for _, a := range abandoned {
			q.onAbandoned(a)
		}
	}
	return res
}

// replay commits one operation, turning a panic in the committer into an error.
func (q *Queue) replay(ctx context.Context, op QueuedOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit panicked: %v", r)
		}
	}()
	_, err = q.committer.Commit(ctx, remote.ScanRequest{
		RFIDTag: op.Tag,
		Action:  op.Action,
		RoomID:  op.RoomID,
	}, op.Pin)
	return err
}

// Status returns the current queue length and sync state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{QueuedOperations: len(q.items), IsSyncing: q.isSyncing}
	if !q.lastSyncAttempt.IsZero() {
		t := q.lastSyncAttempt
		st.LastSyncAttempt = &t
	}
	return st
}

// Items returns a copy of the queued operations, oldest first.
func (q *Queue) Items() []QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedOperation, len(q.items))
	copy(out, q.items)
	return out
}

// Clear drops every queued operation.
func (q *Queue) Clear() {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.log.WithField("discarded", n).Warn("retry queue cleared")
	q.recordLength(0)
}

// Remove drops the operation with the given id and reports whether it was queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, op := range q.items {
		if op.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	length := len(q.items)
	q.mu.Unlock()

	q.log.WithField("id", id).Info("queued operation removed")
	q.recordLength(length)
	return true
}

// StartAutoSync runs a pass every interval until ctx is done or the returned
// stop function is called. Stopping does not interrupt a pass in flight.
func (q *Queue) StartAutoSync(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.autoPass(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	q.log.WithField("interval", interval).Info("retry queue auto-sync started")
	return func() {
		once.Do(func() {
			close(stopCh)
			q.log.Info("retry queue auto-sync stopped")
		})
	}
}

func (q *Queue) autoPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("panic", r).Error("retry pass failed")
		}
	}()
	if res := q.ProcessQueue(ctx); res.Failed > 0 {
		q.log.WithField("failed", res.Failed).Warn("auto-sync pass abandoned operations")
	}
}

func (q *Queue) recordLength(n int) {
	if q.recorder != nil {
		q.recorder.SetQueueLength(n)
	}
}

func (q *Queue) recordReplay(r ReplayResult) {
	if q.recorder != nil {
		q.recorder.ObserveReplay(r)
	}
}
