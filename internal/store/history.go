package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/javanhut/brokkr/internal/objects"
)

// PutVersion stores a new version. Existing versions are immutable.
func (t *Tx) PutVersion(v *objects.Version) error {
	if v.ID == objects.NoVersion {
		return fmt.Errorf("put version: empty id")
	}
	if t.bucket(BucketVersions).Get(v.ID[:]) != nil {
		return fmt.Errorf("put version %s: already exists", v.ID)
	}
	return t.put(BucketVersions, v.ID[:], v)
}

// Version loads a version by id.
func (t *Tx) Version(id objects.VersionID) (*objects.Version, error) {
	var v objects.Version
	if err := t.get(BucketVersions, id[:], &v); err != nil {
		return nil, fmt.Errorf("version %s: %w", id, err)
	}
	return &v, nil
}

// Versions returns every stored version ordered by timestamp.
func (t *Tx) Versions() ([]*objects.Version, error) {
	var out []*objects.Version
	err := t.bucket(BucketVersions).ForEach(func(k, data []byte) error {
		var v objects.Version
		if err := unmarshal(data, &v); err != nil {
			return err
		}
		out = append(out, &v)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, err
}

// AddMergeInfo records an additional parent edge.
func (t *Tx) AddMergeInfo(mi objects.MergeInfo) error {
	key := append(append([]byte{}, mi.Destination[:]...), mi.Source[:]...)
	return t.bucket(BucketMergeInfo).Put(key, []byte{})
}

// MergeSources returns the non-primary parents of a version.
func (t *Tx) MergeSources(id objects.VersionID) ([]objects.VersionID, error) {
	var out []objects.VersionID
	c := t.bucket(BucketMergeInfo).Cursor()
	prefix := id[:]
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		src, err := uuid.FromBytes(k[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("merge info %x: %w", k, err)
		}
		out = append(out, src)
	}
	return out, nil
}

// PutRecord stores r, assigning a fresh ID when it has none.
func (t *Tx) PutRecord(r *objects.Record) (objects.RecordID, error) {
	b := t.bucket(BucketRecords)
	if r.ID == objects.NoRecord {
		seq, err := b.NextSequence()
		if err != nil {
			return 0, err
		}
		r.ID = objects.RecordID(seq)
	}
	if r.UniqueID == uuid.Nil {
		r.UniqueID = uuid.New()
	}
	return r.ID, t.put(BucketRecords, be64(uint64(r.ID)), r)
}

// Record loads a record by id.
func (t *Tx) Record(id objects.RecordID) (*objects.Record, error) {
	var r objects.Record
	if err := t.get(BucketRecords, be64(uint64(id)), &r); err != nil {
		return nil, fmt.Errorf("record %d: %w", id, err)
	}
	return &r, nil
}

type alterationRow struct {
	ID    uint64                 `msgpack:"id"`
	Owner uuid.UUID              `msgpack:"owner"`
	Type  objects.AlterationType `msgpack:"type"`
	New   objects.RecordID       `msgpack:"new"`
	Prior objects.RecordID       `msgpack:"prior"`
}

// PutAlteration appends an alteration to its owner's group. Records must
// already be stored. The assigned ID is written back to a.
func (t *Tx) PutAlteration(a *objects.Alteration) error {
	if err := a.Validate(); err != nil {
		return err
	}
	b := t.bucket(BucketAlterations)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	a.ID = seq

	row := alterationRow{ID: seq, Owner: a.Owner, Type: a.Type}
	if a.NewRecord != nil {
		if a.NewRecord.ID == objects.NoRecord {
			return fmt.Errorf("alteration %s: new record not stored", a)
		}
		row.New = a.NewRecord.ID
	}
	if a.PriorRecord != nil {
		row.Prior = a.PriorRecord.ID
	}
	key := append(append([]byte{}, a.Owner[:]...), be64(seq)...)
	return t.put(BucketAlterations, key, row)
}

// Alterations returns the alteration group of owner in ID order.
func (t *Tx) Alterations(owner uuid.UUID) ([]*objects.Alteration, error) {
	var out []*objects.Alteration
	c := t.bucket(BucketAlterations).Cursor()
	prefix := owner[:]
	for k, data := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, data = c.Next() {
		var row alterationRow
		if err := unmarshal(data, &row); err != nil {
			return nil, err
		}
		a := &objects.Alteration{ID: row.ID, Owner: row.Owner, Type: row.Type}
		var err error
		if row.New != objects.NoRecord {
			if a.NewRecord, err = t.Record(row.New); err != nil {
				return nil, err
			}
		}
		if row.Prior != objects.NoRecord {
			if a.PriorRecord, err = t.Record(row.Prior); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// NearestSnapshot walks Parent pointers from id until a version with an
// attached snapshot is found.
func (t *Tx) NearestSnapshot(id objects.VersionID) (*objects.SnapshotRef, []*objects.Record, error) {
	ref := &objects.SnapshotRef{}
	seen := make(map[objects.VersionID]bool)
	cur := id
	for cur != objects.NoVersion {
		if seen[cur] {
			return nil, nil, fmt.Errorf("parent cycle at version %s", cur)
		}
		seen[cur] = true

		v, err := t.Version(cur)
		if err != nil {
			return nil, nil, err
		}
		if v.HasSnapshot() {
			ref.Owner = v.ID
			ref.Key = v.Snapshot
			records, err := t.SnapshotRecords(v.Snapshot)
			if err != nil {
				return nil, nil, err
			}
			return ref, records, nil
		}
		ref.Chain = append(ref.Chain, v.ID)
		cur = v.Parent
	}
	return ref, nil, nil
}

// AlterationsFor returns the alterations of every version in ref's chain in
// chronological order.
func (t *Tx) AlterationsFor(ref *objects.SnapshotRef) ([]*objects.Alteration, error) {
	var out []*objects.Alteration
	for i := len(ref.Chain) - 1; i >= 0; i-- {
		v, err := t.Version(ref.Chain[i])
		if err != nil {
			return nil, err
		}
		group, err := t.Alterations(v.AlterationList)
		if err != nil {
			return nil, fmt.Errorf("alterations of %s: %w", v.ID, err)
		}
		out = append(out, group...)
	}
	return out, nil
}

// SnapshotRecords loads the full record set of a snapshot.
func (t *Tx) SnapshotRecords(key uuid.UUID) ([]*objects.Record, error) {
	var ids []objects.RecordID
	if err := t.get(BucketSnapshots, key[:], &ids); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", key, err)
	}
	out := make([]*objects.Record, 0, len(ids))
	for _, id := range ids {
		r, err := t.Record(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// PersistSnapshot stores records as the materialized state of version and
// attaches the snapshot key to it. Records must already be stored.
func (t *Tx) PersistSnapshot(id objects.VersionID, records []*objects.Record) (uuid.UUID, error) {
	v, err := t.Version(id)
	if err != nil {
		return uuid.Nil, err
	}
	ids := make([]objects.RecordID, 0, len(records))
	for _, r := range records {
		if r.ID == objects.NoRecord {
			return uuid.Nil, fmt.Errorf("snapshot of %s: record %s not stored", id, r.CanonicalName)
		}
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	key := uuid.New()
	if err := t.put(BucketSnapshots, key[:], ids); err != nil {
		return uuid.Nil, err
	}
	v.Snapshot = key
	return key, t.put(BucketVersions, v.ID[:], v)
}
