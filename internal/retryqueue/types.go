package retryqueue

import (
	"context"
	"time"

	"attendance-kiosk/internal/remote"
)

// Committer performs the remote attendance commit. *remote.Client satisfies it.
type Committer interface {
	Commit(ctx context.Context, req remote.ScanRequest, pin string) (*remote.ScanResult, error)
}

// Recorder receives queue measurements. The metrics package provides one.
type Recorder interface {
	SetQueueLength(n int)
	ObserveReplay(result ReplayResult)
}

// ReplayResult is the outcome of one replay attempt.
type ReplayResult string

const (
	ReplaySuccess   ReplayResult = "success"
	ReplayRetry     ReplayResult = "retry"
	ReplayAbandoned ReplayResult = "abandoned"
)

// QueuedOperation is one scan waiting to be committed. Pin is the staff
// credential the scan was made with and never leaves the process.
// MaxRetries is fixed when the operation is enqueued.
type QueuedOperation struct {
	ID         string        `json:"id"`
	Tag        string        `json:"tag"`
	Action     remote.Action `json:"action"`
	RoomID     int64         `json:"roomId"`
	Pin        string        `json:"-"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
}

// Abandoned is handed to the OnAbandoned hook for every operation dropped by a pass.
type Abandoned struct {
	Operation QueuedOperation
	Err       error
}

// Result holds the tallies of one pass.
type Result struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Remaining  int `json:"remaining"`
}

// Status is a point-in-time view of the queue.
type Status struct {
	QueuedOperations int        `json:"queuedOperations"`
	LastSyncAttempt  *time.Time `json:"lastSyncAttempt"`
	IsSyncing        bool       `json:"isSyncing"`
}

// Options carries the optional collaborators of a Queue.
type Options struct {
	Recorder    Recorder
	OnAbandoned func(Abandoned)
}
