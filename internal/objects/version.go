// Package objects defines the history data model: versions, merge edges,
// records, alterations and pending stage operations.
//
// Every type here is a plain value. Persistence lives in the store package,
// which encodes these types with msgpack.
package objects

import (
	"time"

	"github.com/google/uuid"
)

// VersionID identifies a Version. The zero value means "no version".
type VersionID = uuid.UUID

// NoVersion is the absent version identifier.
var NoVersion = uuid.Nil

// NewVersionID returns a fresh, globally unique version identifier.
func NewVersionID() VersionID {
	return uuid.New()
}

// Version is an immutable node of the history graph. Only Snapshot may be
// attached after creation.
type Version struct {
	ID             VersionID `msgpack:"id"`
	Parent         VersionID `msgpack:"parent"`
	Branch         string    `msgpack:"branch"`
	Timestamp      time.Time `msgpack:"timestamp"`
	Author         string    `msgpack:"author"`
	Message        string    `msgpack:"message"`
	AlterationList uuid.UUID `msgpack:"alteration_list"`
	Snapshot       uuid.UUID `msgpack:"snapshot"`
}

// HasParent reports whether the version has a primary predecessor.
func (v *Version) HasParent() bool {
	return v.Parent != NoVersion
}

// HasSnapshot reports whether a materialized record set is attached.
func (v *Version) HasSnapshot() bool {
	return v.Snapshot != uuid.Nil
}

// Short returns the first eight hex characters of the version ID.
func (v *Version) Short() string {
	return ShortID(v.ID)
}

// ShortID abbreviates a version identifier for display.
func ShortID(id VersionID) string {
	return id.String()[:8]
}

// MergeInfo records an additional, non-primary parent of a merge commit.
type MergeInfo struct {
	Source      VersionID `msgpack:"source"`
	Destination VersionID `msgpack:"destination"`
}

// SnapshotRef describes the reconstruction base found for a version.
//
// Chain lists the versions whose alterations must be replayed on top of the
// base, newest first. Owner is NoVersion when the walk reached a root
// without finding a snapshot, in which case the base is empty.
type SnapshotRef struct {
	Owner VersionID
	Key   uuid.UUID
	Chain []VersionID
}
