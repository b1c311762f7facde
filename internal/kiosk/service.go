// Package kiosk implements the scan path: a tag read at the kiosk is committed
// to the attendance API when it is reachable and queued for replay when not,
// while the identity cache keeps the last known answer for every tag.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/identitycache"
	"attendance-kiosk/internal/parse"
	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/retryqueue"
)

var (
	ErrInvalidTag    = errors.New("invalid rfid tag")
	ErrInvalidAction = errors.New("invalid action")
	ErrMissingPin    = errors.New("staff pin is required")
)

// Outcome says what happened to a scan.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeQueued    Outcome = "queued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Recorder receives scan and cache measurements.
type Recorder interface {
	SetCacheEntries(n int)
	ObserveScan(outcome string)
	ObserveLookup(hit bool)
}

// ScanInput is one raw read from the reader plus the operator's context.
type ScanInput struct {
	Tag      string
	Action   remote.Action
	RoomID   int64
	Pin      string
	Room     string
	Activity string
}

// ScanOutcome is returned for every scan that did not fail.
type ScanOutcome struct {
	Tag         string                        `json:"tag"`
	Outcome     Outcome                       `json:"outcome"`
	Result      *remote.ScanResult            `json:"result,omitempty"`
	Identity    *identitycache.CachedIdentity `json:"identity,omitempty"`
	OperationID string                        `json:"operationId,omitempty"`
}

// Queued reports whether the scan was put on the retry queue.
func (o *ScanOutcome) Queued() bool { return o.Outcome == OutcomeQueued }

// Duplicate reports whether the scan was suppressed as a repeated read.
func (o *ScanOutcome) Duplicate() bool { return o.Outcome == OutcomeDuplicate }

// Service owns the live identity container and routes scans.
type Service struct {
	committer retryqueue.Committer
	cache     *identitycache.Cache
	queue     *retryqueue.Queue
	recorder  Recorder
	log       logrus.FieldLogger

	recent   *cache.Cache
	debounce time.Duration

	mu        sync.Mutex
	container *identitycache.Container
}

// NewService wires the scan path. rec may be nil.
func NewService(cfg config.ServerConfig, committer retryqueue.Committer, ic *identitycache.Cache, q *retryqueue.Queue, log logrus.FieldLogger, rec Recorder) *Service {
	debounce := cfg.ScanDebounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Service{
		committer: committer,
		cache:     ic,
		queue:     q,
		recorder:  rec,
		log:       log.WithField("component", "kiosk"),
		recent:    cache.New(debounce, 2*debounce),
		debounce:  debounce,
	}
}

// Start loads today's identity container and removes those of previous days.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.container = s.cache.Load(ctx)
	n := s.container.Len()
	s.mu.Unlock()
	s.setEntries(n)

	if removed, err := s.cache.CleanupOld(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clean up old identity caches")
	} else if removed > 0 {
		s.log.WithField("removed", removed).Info("removed identity caches of previous days")
	}
	s.log.WithField("entries", n).Info("kiosk service started")
}

// Scan handles one tag read.
func (s *Service) Scan(ctx context.Context, in ScanInput) (*ScanOutcome, error) {
	tag, err := parse.NormalizeTag(in.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	if in.Action != remote.ActionCheckIn && in.Action != remote.ActionCheckOut {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}
	if in.Pin == "" {
		return nil, ErrMissingPin
	}
	log := s.log.WithFields(logrus.Fields{"tag": tag, "action": in.Action, "room_id": in.RoomID})

	if err := s.recent.Add(tag, struct{}{}, s.debounce); err != nil {
		log.Debug("duplicate read suppressed")
		s.observeScan(OutcomeDuplicate)
		return &ScanOutcome{Tag: tag, Outcome: OutcomeDuplicate, Identity: s.lookup(ctx, tag)}, nil
	}

	res, err := s.committer.Commit(ctx, remote.ScanRequest{RFIDTag: tag, Action: in.Action, RoomID: in.RoomID}, in.Pin)
	switch {
	case err == nil:
		identity := s.remember(ctx, tag, *res, &identitycache.ScanContext{Room: in.Room, Activity: in.Activity})
		log.WithField("student_id", res.StudentID).Info("scan committed")
		s.observeScan(OutcomeCommitted)
		return &ScanOutcome{Tag: tag, Outcome: OutcomeCommitted, Result: res, Identity: identity}, nil

	case remote.IsTransient(err):
		id := s.queue.Enqueue(tag, in.Action, in.RoomID, in.Pin)
		log.WithError(err).WithField("operation_id", id).Warn("remote api unavailable, scan queued")
		s.observeScan(OutcomeQueued)
		return &ScanOutcome{Tag: tag, Outcome: OutcomeQueued, Identity: s.lookup(ctx, tag), OperationID: id}, nil

	default:
		// A rejected scan may be retried at once, e.g. with the right pin.
		s.recent.Delete(tag)
		log.WithError(err).Warn("scan rejected by remote api")
		s.observeScan(OutcomeRejected)
		return nil, err
	}
}

// remember stores a committed result in the live container and persists it.
func (s *Service) remember(ctx context.Context, tag string, res remote.ScanResult, sc *identitycache.ScanContext) *identitycache.CachedIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct := s.currentLocked(ctx)
	ct = s.cache.Set(ct, tag, s.cache.FromScanResult(res, sc))
	s.container = ct
	if err := s.cache.Save(ctx, ct); err != nil {
		s.log.WithError(err).WithField("tag", tag).Error("failed to persist identity cache")
	}
	s.setEntries(ct.Len())

	entry := ct.Entries[tag]
	return &entry
}

// currentLocked returns the live container, switching to today's when the
// day has changed. Every read and write of s.container goes through it.
// s.mu must be held.
func (s *Service) currentLocked(ctx context.Context) *identitycache.Container {
	today := s.cache.Today()
	if s.container == nil || s.container.Metadata.DateCreated != today {
		if s.container != nil {
			s.log.WithFields(logrus.Fields{"from": s.container.Metadata.DateCreated, "to": today}).Info("day changed, switching identity cache")
		}
		s.container = s.cache.Load(ctx)
		s.setEntries(s.container.Len())
	}
	return s.container
}

func (s *Service) lookup(ctx context.Context, tag string) *identitycache.CachedIdentity {
	s.mu.Lock()
	entry, ok := s.cache.Get(s.currentLocked(ctx), tag)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveLookup(ok)
	}
	if !ok {
		return nil
	}
	return &entry
}

// Lookup returns the cached identity for a tag in any accepted spelling.
func (s *Service) Lookup(ctx context.Context, tag string) (identitycache.CachedIdentity, bool) {
	normalized, err := parse.NormalizeTag(tag)
	if err != nil {
		return identitycache.CachedIdentity{}, false
	}
	entry := s.lookup(ctx, normalized)
	if entry == nil {
		return identitycache.CachedIdentity{}, false
	}
	return *entry, true
}

// CacheStats summarizes today's container.
func (s *Service) CacheStats(ctx context.Context) identitycache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats(s.currentLocked(ctx))
}

// ClearCache empties the live container and deletes today's persisted copy.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	s.container = s.cache.NewContainer()
	s.setEntries(0)
	return nil
}

// Flush persists the live container.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.container == nil {
		return nil
	}
	return s.cache.Save(ctx, s.container)
}

// Queue returns the retry queue the service enqueues to.
func (s *Service) Queue() *retryqueue.Queue {
	return s.queue
}

func (s *Service) setEntries(n int) {
	if s.recorder != nil {
		s.recorder.SetCacheEntries(n)
	}
}

func (s *Service) observeScan(o Outcome) {
	if s.recorder != nil {
		s.recorder.ObserveScan(string(o))
	}
}
