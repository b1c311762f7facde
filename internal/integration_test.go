package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/db"
	"attendance-kiosk/internal/identitycache"
	"attendance-kiosk/internal/kiosk"
	"attendance-kiosk/internal/logging"
	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/retryqueue"
	"attendance-kiosk/internal/store"
)

// attendanceServer simulates the remote attendance API going down and back up.
type attendanceServer struct {
	mu      sync.Mutex
	online  bool
	commits []remote.ScanRequest
	pins    []string
}

func (s *attendanceServer) setOnline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = v
}

func (s *attendanceServer) committed() []remote.ScanRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.ScanRequest(nil), s.commits...)
}

func (s *attendanceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var req remote.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.Header.Get("X-Staff-PIN") == "0000" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"status":"error","message":"invalid staff PIN"}`)
		return
	}
	s.commits = append(s.commits, req)
	s.pins = append(s.pins, r.Header.Get("X-Staff-PIN"))

	action := "checked_in"
	if req.Action == remote.ActionCheckOut {
		action = "checked_out"
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"success","data":{"student_id":7,"student_name":"Mia Braun","action":%q,"room_name":"Room %d"}}`, action, req.RoomID)
}

type harness struct {
	server    *attendanceServer
	cache     *identitycache.Cache
	queue     *retryqueue.Queue
	svc       *kiosk.Service
	abandoned chan retryqueue.Abandoned
}

func newHarness(t *testing.T, dsn string) *harness {
	t.Helper()
	log := logging.Discard()

	gdb, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, log)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	srv := &attendanceServer{online: true}
	httpServer := httptest.NewServer(srv)
	t.Cleanup(httpServer.Close)

	client := remote.New(config.APIConfig{BaseURL: httpServer.URL, DeviceAPIKey: "device", Timeout: time.Second}, log)
	ic := identitycache.New(store.NewGormStore(gdb), config.IdentityCacheConfig{MaxAge: 24 * time.Hour, Location: time.Local}, log)

	abandoned := make(chan retryqueue.Abandoned, 10)
	q := retryqueue.New(client, config.RetryQueueConfig{MaxSize: 100, MaxRetries: 3, ReplayDelay: time.Millisecond}, log, retryqueue.Options{
		OnAbandoned: func(a retryqueue.Abandoned) { abandoned <- a },
	})
	svc := kiosk.NewService(config.ServerConfig{ScanDebounce: time.Millisecond}, client, ic, q, log, nil)
	svc.Start(context.Background())

	return &harness{server: srv, cache: ic, queue: q, svc: svc, abandoned: abandoned}
}

// TestOfflineScanLifecycle follows scans through an outage: they are queued
// while the API is down and replayed, in order and with their own pins, once
// it is back.
func TestOfflineScanLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, filepath.Join(t.TempDir(), "kiosk.db"))

	t.Run("Online scan is committed and cached", func(t *testing.T) {
		out, err := h.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:11:22:33", Action: remote.ActionCheckIn, RoomID: 1, Pin: "1111"})
		require.NoError(t, err)
		assert.Equal(t, kiosk.OutcomeCommitted, out.Outcome)

		entry, ok := h.svc.Lookup(ctx, "04:11:22:33")
		require.True(t, ok)
		assert.Equal(t, "Mia Braun", entry.Name)
		assert.Equal(t, "Room 1", entry.Room)
	})

	t.Run("Scans during an outage are queued", func(t *testing.T) {
		h.server.setOnline(false)
		time.Sleep(5 * time.Millisecond)

		out, err := h.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:11:22:33", Action: remote.ActionCheckOut, RoomID: 2, Pin: "2222"})
		require.NoError(t, err)
		assert.True(t, out.Queued())
		require.NotNil(t, out.Identity, "the cached identity is shown while offline")
		assert.Equal(t, identitycache.StatusCheckedIn, out.Identity.Status)

		out, err = h.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:44:55:66", Action: remote.ActionCheckIn, RoomID: 3, Pin: "3333"})
		require.NoError(t, err)
		assert.True(t, out.Queued())
		assert.Nil(t, out.Identity)

		res := h.queue.ProcessQueue(ctx)
		assert.Equal(t, retryqueue.Result{Processed: 2, Remaining: 2}, res)
		for _, op := range h.queue.Items() {
			assert.Equal(t, 1, op.RetryCount)
		}
	})

	t.Run("Queue drains once the API is back", func(t *testing.T) {
		h.server.setOnline(true)

		res := h.queue.ProcessQueue(ctx)
		assert.Equal(t, retryqueue.Result{Processed: 2, Successful: 2}, res)
		assert.Equal(t, 0, h.queue.Status().QueuedOperations)

		commits := h.server.committed()
		require.Len(t, commits, 3)
		assert.Equal(t, remote.ScanRequest{RFIDTag: "04:11:22:33", Action: remote.ActionCheckOut, RoomID: 2}, commits[1])
		assert.Equal(t, remote.ScanRequest{RFIDTag: "04:44:55:66", Action: remote.ActionCheckIn, RoomID: 3}, commits[2])
		assert.Equal(t, []string{"1111", "2222", "3333"}, h.server.pins)
	})
}

// TestAbandonedScans covers the two ways the queue gives up on an operation.
func TestAbandonedScans(t *testing.T) {
	ctx := context.Background()

	t.Run("Retry budget exhausted", func(t *testing.T) {
		h := newHarness(t, filepath.Join(t.TempDir(), "kiosk.db"))
		h.server.setOnline(false)

		_, err := h.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:AA:BB", Action: remote.ActionCheckIn, RoomID: 1, Pin: "1234"})
		require.NoError(t, err)

		var res retryqueue.Result
		for i := 0; i < 3; i++ {
			res = h.queue.ProcessQueue(ctx)
		}
		assert.Equal(t, retryqueue.Result{Processed: 1, Failed: 1}, res)

		select {
		case a := <-h.abandoned:
			assert.Equal(t, "04:AA:BB", a.Operation.Tag)
			assert.Equal(t, remote.KindServer, remote.KindOf(a.Err))
		case <-time.After(time.Second):
			t.Fatal("abandoned operation was not reported")
		}
	})

	t.Run("Rejected on replay", func(t *testing.T) {
		h := newHarness(t, filepath.Join(t.TempDir(), "kiosk.db"))
		h.server.setOnline(false)

		_, err := h.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:AA:BB", Action: remote.ActionCheckIn, RoomID: 1, Pin: "0000"})
		require.NoError(t, err)

		h.server.setOnline(true)
		res := h.queue.ProcessQueue(ctx)
		assert.Equal(t, retryqueue.Result{Processed: 1, Failed: 1}, res)

		a := <-h.abandoned
		assert.Equal(t, remote.KindUnauthorized, remote.KindOf(a.Err))
		assert.Equal(t, 1, a.Operation.RetryCount)
	})
}

// TestIdentityCacheSurvivesRestart checks the cache is persisted per day and
// reloaded by a new process on the same database.
func TestIdentityCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "kiosk.db")

	first := newHarness(t, dsn)
	_, err := first.svc.Scan(ctx, kiosk.ScanInput{Tag: "04:AA:BB:CC", Action: remote.ActionCheckIn, RoomID: 5, Pin: "1234", Activity: "Choir"})
	require.NoError(t, err)
	require.NoError(t, first.svc.Flush(ctx))

	second := newHarness(t, dsn)
	entry, ok := second.svc.Lookup(ctx, "04aabbcc")
	require.True(t, ok)
	assert.Equal(t, "Choir", entry.Activity)
	assert.Equal(t, 1, second.svc.CacheStats(ctx).Total)
	assert.Equal(t, 0, second.queue.Status().QueuedOperations, "the retry queue is not persisted")
}
