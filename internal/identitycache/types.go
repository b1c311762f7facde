package identitycache

import "time"

// SchemaVersion is the version of the persisted container layout. A stored
// container with any other version is discarded on load.
const SchemaVersion = 1

// KeyPrefix prefixes the blob key of every persisted container. The rest of
// the key is the container's calendar date.
const KeyPrefix = "identity_cache:"

// Status is the last known attendance state of a tag holder.
type Status string

const (
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

// IdentityData is what callers hand to Set.
type IdentityData struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
	Room     string    `json:"room,omitempty"`
	Activity string    `json:"activity,omitempty"`
}

// CachedIdentity is one cache entry. CachedAt is always stamped by the cache.
type CachedIdentity struct {
	IdentityData
	CachedAt time.Time `json:"cachedAt"`
}

// Metadata describes a persisted container.
type Metadata struct {
	LastSync      time.Time `json:"lastSync"`
	SchemaVersion int       `json:"schemaVersion"`
	DateCreated   string    `json:"dateCreated"`
}

// Container is the unit of persistence: every entry for one calendar day.
// Treat it as a value. Set returns a new container instead of changing one.
type Container struct {
	Entries  map[string]CachedIdentity `json:"entries"`
	Metadata Metadata                  `json:"metadata"`
}

// Len returns the number of entries, fresh or not.
func (c *Container) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// ScanContext carries what the kiosk knows about where a scan happened. Non-empty
// fields take precedence over what the server reported.
type ScanContext struct {
	Room     string
	Activity string
}

// Stats is a diagnostic summary of a container.
type Stats struct {
	Total         int       `json:"total"`
	Fresh         int       `json:"fresh"`
	Expired       int       `json:"expired"`
	CheckedIn     int       `json:"checkedIn"`
	CheckedOut    int       `json:"checkedOut"`
	DateCreated   string    `json:"dateCreated"`
	LastSync      time.Time `json:"lastSync"`
	SchemaVersion int       `json:"schemaVersion"`
}
