package objects

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordID is the store-assigned identifier of a Record.
type RecordID uint64

// NoRecord is the absent record identifier.
const NoRecord RecordID = 0

// Attributes carries filesystem attribute bits of a record.
type Attributes uint32

const (
	AttrExecutable Attributes = 1 << iota
	AttrSymlink
	AttrHidden
	AttrReadOnly
)

// Has reports whether all bits of a are set.
func (attrs Attributes) Has(a Attributes) bool {
	return attrs&a == a
}

// Record is the state of one path at some point in history.
//
// For regular files Fingerprint is the hex BLAKE3 digest of the content. For
// directories it is the canonical name itself, and for symlinks the link
// target.
type Record struct {
	ID            RecordID   `msgpack:"id"`
	CanonicalName string     `msgpack:"name"`
	Fingerprint   string     `msgpack:"fingerprint"`
	Size          int64      `msgpack:"size"`
	ModTime       time.Time  `msgpack:"mtime"`
	Attributes    Attributes `msgpack:"attrs"`
	UniqueID      uuid.UUID  `msgpack:"uid"`
	Parent        RecordID   `msgpack:"parent"`
}

// IsDir reports whether the record describes a directory.
func (r *Record) IsDir() bool {
	return strings.HasSuffix(r.CanonicalName, "/")
}

// IsSymlink reports whether the record describes a symbolic link.
func (r *Record) IsSymlink() bool {
	return r.Attributes.Has(AttrSymlink)
}

// DataEqual reports whether two records carry the same data, regardless of
// their names.
func (r *Record) DataEqual(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Size == o.Size && r.Fingerprint == o.Fingerprint
}

// DataID is the name-independent data identifier of the record.
func (r *Record) DataID() string {
	return fmt.Sprintf("%d:%s", r.Size, r.Fingerprint)
}

// Clone returns a copy of the record with a cleared ID, ready to be stored
// as a new record superseding r.
func (r *Record) Clone() *Record {
	c := *r
	c.ID = NoRecord
	c.Parent = r.ID
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("%s#%d", r.CanonicalName, r.ID)
}

// CanonicalName normalizes a repository-relative path. Directories carry a
// trailing slash.
func CanonicalName(rel string, dir bool) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = path.Clean("/" + rel)[1:]
	if dir && rel != "" {
		return rel + "/"
	}
	return rel
}

// ParentDir returns the canonical name of the directory containing name, or
// the empty string for top-level entries.
func ParentDir(name string) string {
	dir := path.Dir(strings.TrimSuffix(name, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}

// RecordSet is a full file-tree state keyed by canonical name.
type RecordSet map[string]*Record

// NewRecordSet indexes records by canonical name. Later entries win.
func NewRecordSet(records []*Record) RecordSet {
	set := make(RecordSet, len(records))
	for _, r := range records {
		set[r.CanonicalName] = r
	}
	return set
}

// Names returns the canonical names in lexical order.
func (s RecordSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Records returns the records ordered by canonical name.
func (s RecordSet) Records() []*Record {
	out := make([]*Record, 0, len(s))
	for _, n := range s.Names() {
		out = append(out, s[n])
	}
	return out
}

// IDs returns the record identifiers ordered by canonical name.
func (s RecordSet) IDs() []RecordID {
	out := make([]RecordID, 0, len(s))
	for _, n := range s.Names() {
		out = append(out, s[n].ID)
	}
	return out
}

// Clone returns a shallow copy of the set.
func (s RecordSet) Clone() RecordSet {
	c := make(RecordSet, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Equal reports whether both sets hold data-equal records under the same
// names.
func (s RecordSet) Equal(o RecordSet) bool {
	if len(s) != len(o) {
		return false
	}
	for name, r := range s {
		if !r.DataEqual(o[name]) {
			return false
		}
	}
	return true
}
