package projections

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultStallThreshold is the age of the last heartbeat after which a rebuild counts as stalled.
	DefaultStallThreshold = 5 * time.Minute

	// DefaultLockPrecision is the precision both sides of the rebuild lock comparison are truncated to.
	DefaultLockPrecision = time.Second

	indexStatePartition = "projection-index-states"
)

// IndexStatus is the lifecycle state of one IndexVersion.
type IndexStatus string

const (
	IndexStatusCreated           IndexStatus = "created"
	IndexStatusRebuildInProgress IndexStatus = "rebuild_in_progress"
	IndexStatusCompleted         IndexStatus = "completed"
	IndexStatusStalled           IndexStatus = "stalled"
)

// IndexVersion is the lifecycle record of the backend index holding one schema version.
type IndexVersion struct {
	IndexName            string     `json:"indexName"`
	SchemaHash           string     `json:"schemaHash"`
	CreatedAt            time.Time  `json:"createdAt"`
	RebuildStartedAt     *time.Time `json:"rebuildStartedAt,omitempty"`
	RebuildHealthCheckAt *time.Time `json:"rebuildHealthCheckAt,omitempty"`
	RebuildCompletedAt   *time.Time `json:"rebuildCompletedAt,omitempty"`
	RebuildOwner         string     `json:"rebuildOwner,omitempty"`
	EventsProcessed      int64      `json:"eventsProcessed"`
	TotalEventsToProcess int64      `json:"totalEventsToProcess"`
}

// Status derives the lifecycle state. A rebuild whose last heartbeat is older than stallThreshold is stalled.
func (v IndexVersion) Status(now time.Time, stallThreshold time.Duration) IndexStatus {
	switch {
	case v.RebuildCompletedAt != nil:
		return IndexStatusCompleted
	case v.RebuildStartedAt == nil:
		return IndexStatusCreated
	}

	lastSignOfLife := *v.RebuildStartedAt
	if v.RebuildHealthCheckAt != nil {
		lastSignOfLife = *v.RebuildHealthCheckAt
	}

	if now.Sub(lastSignOfLife) > stallThreshold {
		return IndexStatusStalled
	}

	return IndexStatusRebuildInProgress
}

// IndexState lists all index versions ever created for one schema name.
type IndexState struct {
	SchemaName string         `json:"schemaName"`
	Versions   []IndexVersion `json:"versions"`

	revision uint64
}

// Revision is the KeyValueStore revision the state was loaded with; 0 if it was never persisted.
func (s IndexState) Revision() uint64 {
	return s.revision
}

// Version returns the entry for the schema hash.
func (s IndexState) Version(schemaHash string) (IndexVersion, bool) {
	for _, version := range s.Versions {
		if version.SchemaHash == schemaHash {
			return version, true
		}
	}

	return IndexVersion{}, false
}

func (s *IndexState) replace(version IndexVersion) {
	for i := range s.Versions {
		if s.Versions[i].SchemaHash == version.SchemaHash {
			s.Versions[i] = version
			return
		}
	}

	s.Versions = append(s.Versions, version)
}

func (s IndexState) clone() IndexState {
	c := s
	c.Versions = append([]IndexVersion(nil), s.Versions...)

	return c
}

// Selector expresses the intent of an operation and decides which index version serves it.
type Selector int

const (
	// SelectReadOnly prefers the latest completed version, then the latest started, then the latest created.
	SelectReadOnly Selector = iota

	// SelectWrite picks the latest completed version and fails with ErrIndexNotReady if there is none.
	SelectWrite

	// SelectRebuild always picks the version of the current schema, whatever its state.
	SelectRebuild
)

func (s Selector) String() string {
	switch s {
	case SelectReadOnly:
		return "read_only"
	case SelectWrite:
		return "write"
	case SelectRebuild:
		return "rebuild"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// selectVersion applies the selector rules to a state that already contains the current schema version.
func (s IndexState) selectVersion(selector Selector, currentHash string) (IndexVersion, error) {
	switch selector {
	case SelectRebuild:
		if version, ok := s.Version(currentHash); ok {
			return version, nil
		}

	case SelectWrite:
		if version, ok := latest(s.Versions, completedAt); ok {
			return version, nil
		}

		return IndexVersion{}, fmt.Errorf("%w: schema %q", ErrIndexNotReady, s.SchemaName)

	case SelectReadOnly:
		for _, at := range []func(IndexVersion) *time.Time{completedAt, startedAt, createdAt} {
			if version, ok := latest(s.Versions, at); ok {
				return version, nil
			}
		}
	}

	return IndexVersion{}, fmt.Errorf("%w: schema %q has no index version", ErrIndexNotFound, s.SchemaName)
}

func completedAt(v IndexVersion) *time.Time { return v.RebuildCompletedAt }
func startedAt(v IndexVersion) *time.Time   { return v.RebuildStartedAt }
func createdAt(v IndexVersion) *time.Time   { return &v.CreatedAt }

// latest returns the version with the most recent timestamp; versions without one are skipped.
func latest(versions []IndexVersion, at func(IndexVersion) *time.Time) (IndexVersion, bool) {
	var (
		found      IndexVersion
		foundAt    time.Time
		foundAtAll bool
	)

	for _, version := range versions {
		t := at(version)
		if t == nil {
			continue
		}

		if !foundAtAll || t.After(foundAt) {
			found, foundAt, foundAtAll = version, *t, true
		}
	}

	return found, foundAtAll
}

var nonIdentifierChars = regexp.MustCompile(`[^a-z0-9_]+`)

// IndexName derives the backend index name of a schema version: the sanitized schema name
// plus the first 12 hex digits of the schema hash.
func IndexName(schema DocumentSchema) string {
	name := nonIdentifierChars.ReplaceAllString(strings.ToLower(schema.Name), "_")
	digest := strings.TrimPrefix(schema.Hash(), "sha256:")

	if len(digest) > 12 {
		digest = digest[:12]
	}

	return strings.Trim(name, "_") + "_" + digest
}
