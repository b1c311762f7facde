// Package identitycache keeps the last known identity and attendance status
// for every RFID tag seen today, so the kiosk can answer "who is this" without
// waiting on the network.
//
// The cache is date scoped: a container only ever holds one calendar day and
// is discarded on load once the day has changed. Individual entries also
// expire after MaxAge. Containers are threaded through the API by the caller;
// nothing here keeps one in memory.
package identitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/remote"
	"attendance-kiosk/internal/store"
)

const dateLayout = "2006-01-02"

// Cache loads, saves and queries identity containers.
type Cache struct {
	store  store.Store
	log    logrus.FieldLogger
	maxAge time.Duration
	loc    *time.Location
	now    func() time.Time
}

// New creates a Cache persisting through s.
func New(s store.Store, cfg config.IdentityCacheConfig, log logrus.FieldLogger) *Cache {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Cache{
		store:  s,
		log:    log.WithField("component", "identitycache"),
		maxAge: maxAge,
		loc:    loc,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for dates and freshness.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Today returns the date key of the current day in the cache's time zone.
func (c *Cache) Today() string {
	return c.dateKey(c.now())
}

func (c *Cache) dateKey(t time.Time) string {
	return t.In(c.loc).Format(dateLayout)
}

func blobKey(date string) string {
	return KeyPrefix + date
}

// NewContainer returns an empty container for today.
func (c *Cache) NewContainer() *Container {
	return &Container{
		Entries: make(map[string]CachedIdentity),
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			DateCreated:   c.Today(),
		},
	}
}

// Load reads today's container. It never fails: a missing, unreadable or
// invalid container is replaced by an empty one. Expired entries are dropped
// before the container is returned.
func (c *Cache) Load(ctx context.Context) *Container {
	today := c.Today()
	log := c.log.WithField("date", today)

	raw, err := c.store.LoadBlob(ctx, blobKey(today))
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("no identity cache stored for today, starting empty")
		return c.NewContainer()
	}
	if err != nil {
		log.WithError(err).Warn("failed to read identity cache, starting empty")
		return c.NewContainer()
	}

	var loaded Container
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.WithError(err).Warn("identity cache is malformed, discarding it")
		return c.NewContainer()
	}
	if reason := c.invalidReason(&loaded, today); reason != "" {
		log.WithField("reason", reason).Warn("identity cache failed validation, discarding it")
		return c.NewContainer()
	}

	now := c.now()
	removed := 0
	for tag, entry := range loaded.Entries {
		if !c.fresh(entry, now) {
			delete(loaded.Entries, tag)
			removed++
		}
	}
	log.WithFields(logrus.Fields{
		"entries": len(loaded.Entries),
		"expired": removed,
	}).Debug("identity cache loaded")
	return &loaded
}

func (c *Cache) invalidReason(ct *Container, today string) string {
	switch {
	case ct.Metadata.SchemaVersion != SchemaVersion:
		return fmt.Sprintf("schema version %d, want %d", ct.Metadata.SchemaVersion, SchemaVersion)
	case ct.Metadata.DateCreated != today:
		return fmt.Sprintf("created on %q, today is %q", ct.Metadata.DateCreated, today)
	case ct.Entries == nil:
		return "missing entries"
	}
	for tag, entry := range ct.Entries {
		if tag == "" || entry.CachedAt.IsZero() {
			return "entry without tag or cachedAt"
		}
	}
	return ""
}

// Save stamps the container's lastSync and persists it as a whole. Unlike the
// other operations, failures are returned so a lost write is never hidden.
func (c *Cache) Save(ctx context.Context, ct *Container) error {
	if ct == nil {
		return errors.New("identity cache: cannot save a nil container")
	}
	date := ct.Metadata.DateCreated
	if date == "" {
		date = c.Today()
		ct.Metadata.DateCreated = date
	}
	if ct.Metadata.SchemaVersion == 0 {
		ct.Metadata.SchemaVersion = SchemaVersion
	}
	if ct.Entries == nil {
		ct.Entries = make(map[string]CachedIdentity)
	}
	ct.Metadata.LastSync = c.now()

	raw, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("failed to marshal identity cache: %w", err)
	}
	if err := c.store.SaveBlob(ctx, blobKey(date), raw); err != nil {
		return fmt.Errorf("failed to persist identity cache: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"date":    date,
		"entries": len(ct.Entries),
	}).Debug("identity cache saved")
	return nil
}

// Get returns the entry for tag when it exists and is still fresh. Freshness
// is checked on every read, whatever the container's age.
func (c *Cache) Get(ct *Container, tag string) (CachedIdentity, bool) {
	if ct == nil {
		return CachedIdentity{}, false
	}
	entry, ok := ct.Entries[tag]
	if !ok || !c.fresh(entry, c.now()) {
		return CachedIdentity{}, false
	}
	return entry, true
}

// Set returns a copy of ct with tag's entry replaced by data. ct itself is
// left untouched and nothing is persisted.
func (c *Cache) Set(ct *Container, tag string, data IdentityData) *Container {
	base := ct
	if base == nil {
		base = c.NewContainer()
	}

	next := &Container{
		Entries:  make(map[string]CachedIdentity, len(base.Entries)+1),
		Metadata: base.Metadata,
	}
	for k, v := range base.Entries {
		next.Entries[k] = v
	}
	next.Entries[tag] = CachedIdentity{IdentityData: data, CachedAt: c.now()}
	return next
}

// FromScanResult converts a committed scan into cache data. Room and activity
// from sc win over the server's room name when set.
func (c *Cache) FromScanResult(res remote.ScanResult, sc *ScanContext) IdentityData {
	data := IdentityData{
		ID:       res.StudentID,
		Name:     res.StudentName,
		Status:   StatusCheckedIn,
		LastSeen: c.now(),
		Room:     res.RoomName,
	}
	if res.Action == remote.ResultCheckedOut {
		data.Status = StatusCheckedOut
	}
	if res.ProcessedAt != nil && !res.ProcessedAt.IsZero() {
		data.LastSeen = *res.ProcessedAt
	}
	if sc != nil {
		if sc.Room != "" {
			data.Room = sc.Room
		}
		if sc.Activity != "" {
			data.Activity = sc.Activity
		}
	}
	return data
}

// Stats summarizes ct, recomputing freshness for every entry.
func (c *Cache) Stats(ct *Container) Stats {
	if ct == nil {
		return Stats{}
	}
	now := c.now()
	stats := Stats{
		Total:         len(ct.Entries),
		DateCreated:   ct.Metadata.DateCreated,
		LastSync:      ct.Metadata.LastSync,
		SchemaVersion: ct.Metadata.SchemaVersion,
	}
	for _, entry := range ct.Entries {
		if c.fresh(entry, now) {
			stats.Fresh++
		} else {
			stats.Expired++
		}
		switch entry.Status {
		case StatusCheckedIn:
			stats.CheckedIn++
		case StatusCheckedOut:
			stats.CheckedOut++
		}
	}
	return stats
}

// Clear deletes today's persisted container.
func (c *Cache) Clear(ctx context.Context) error {
	today := c.Today()
	if err := c.store.DeleteBlob(ctx, blobKey(today)); err != nil {
		return fmt.Errorf("failed to clear identity cache: %w", err)
	}
	c.log.WithField("date", today).Info("identity cache cleared")
	return nil
}

// CleanupOld deletes the persisted containers of every day but today and
// returns how many were removed. A failed delete is logged and skipped.
func (c *Cache) CleanupOld(ctx context.Context) (int, error) {
	keys, err := c.store.ListKeys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list identity caches: %w", err)
	}

	current := blobKey(c.Today())
	removed := 0
	for _, key := range keys {
		if key == current {
			continue
		}
		if err := c.store.DeleteBlob(ctx, key); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("failed to remove old identity cache")
			continue
		}
		removed++
	}
	if removed > 0 {
		c.log.WithField("removed", removed).Info("old identity caches removed")
	}
	return removed, nil
}

// fresh reports whether entry is at most maxAge old. The boundary counts as fresh.
func (c *Cache) fresh(entry CachedIdentity, now time.Time) bool {
	return now.Sub(entry.CachedAt) <= c.maxAge
}
