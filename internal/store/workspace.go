package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	keyBranch  = []byte("branch")
	keyVersion = []byte("version")
)

func unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Heads returns the tips recorded for a branch.
func (t *Tx) Heads(branch string) ([]objects.VersionID, error) {
	var ids []objects.VersionID
	err := t.get(BucketHeads, []byte(branch), &ids)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

// Head returns the single tip of a branch.
func (t *Tx) Head(branch string) (objects.VersionID, error) {
	ids, err := t.Heads(branch)
	if err != nil {
		return objects.NoVersion, err
	}
	switch len(ids) {
	case 0:
		return objects.NoVersion, fmt.Errorf("branch %q: %w", branch, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return objects.NoVersion, fmt.Errorf("branch %q has %d heads: %w", branch, len(ids), ErrMultipleHeads)
	}
}

// SetHead replaces all tips of branch with id.
func (t *Tx) SetHead(branch string, id objects.VersionID) error {
	return t.put(BucketHeads, []byte(branch), []objects.VersionID{id})
}

// AddHead records an additional tip for branch, for example when a version
// arrives whose parent is not the current head.
func (t *Tx) AddHead(branch string, id objects.VersionID) error {
	ids, err := t.Heads(branch)
	if err != nil {
		return err
	}
	for _, h := range ids {
		if h == id {
			return nil
		}
	}
	return t.put(BucketHeads, []byte(branch), append(ids, id))
}

// RemoveHead drops id from branch's tips.
func (t *Tx) RemoveHead(branch string, id objects.VersionID) error {
	ids, err := t.Heads(branch)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, h := range ids {
		if h != id {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return t.bucket(BucketHeads).Delete([]byte(branch))
	}
	return t.put(BucketHeads, []byte(branch), kept)
}

// Branches lists branch names in lexical order.
func (t *Tx) Branches() ([]string, error) {
	var out []string
	err := t.bucket(BucketHeads).ForEach(func(k, _ []byte) error {
		out = append(out, string(k))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// SetCurrent records the branch and version the working copy is based on.
func (t *Tx) SetCurrent(branch string, id objects.VersionID) error {
	b := t.bucket(BucketWorkspace)
	if err := b.Put(keyBranch, []byte(branch)); err != nil {
		return err
	}
	return b.Put(keyVersion, id[:])
}

// Current returns the working copy's branch and base version.
func (t *Tx) Current() (string, objects.VersionID, error) {
	b := t.bucket(BucketWorkspace)
	branch := b.Get(keyBranch)
	raw := b.Get(keyVersion)
	if branch == nil || raw == nil {
		return "", objects.NoVersion, fmt.Errorf("workspace pointer: %w", ErrNotFound)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", objects.NoVersion, fmt.Errorf("workspace pointer: %w", err)
	}
	return string(branch), id, nil
}

// TimeEntry caches the fingerprint of a working file observed at a given
// size and modification time.
type TimeEntry struct {
	Size        int64     `msgpack:"size"`
	ModTime     time.Time `msgpack:"mtime"`
	Fingerprint string    `msgpack:"fingerprint"`
}

// Matches reports whether the cached entry still describes a file of the
// given size and mtime.
func (e *TimeEntry) Matches(size int64, mtime time.Time) bool {
	return e != nil && e.Size == size && e.ModTime.Equal(mtime)
}

// TimeCache loads the whole time cache.
func (t *Tx) TimeCache() (map[string]*TimeEntry, error) {
	out := make(map[string]*TimeEntry)
	err := t.bucket(BucketTimeCache).ForEach(func(k, data []byte) error {
		var e TimeEntry
		if err := unmarshal(data, &e); err != nil {
			return err
		}
		out[string(k)] = &e
		return nil
	})
	return out, err
}

// PutTimeEntry refreshes the cache entry of name.
func (t *Tx) PutTimeEntry(name string, e *TimeEntry) error {
	return t.put(BucketTimeCache, []byte(name), e)
}

// DeleteTimeEntry drops the cache entry of name.
func (t *Tx) DeleteTimeEntry(name string) error {
	return t.bucket(BucketTimeCache).Delete([]byte(name))
}

// StageOps returns all pending stage operations ordered by key.
func (t *Tx) StageOps() ([]*objects.StageOp, error) {
	var out []*objects.StageOp
	err := t.bucket(BucketStage).ForEach(func(k, data []byte) error {
		var op objects.StageOp
		if err := unmarshal(data, &op); err != nil {
			return err
		}
		out = append(out, &op)
		return nil
	})
	return out, err
}

// PutStage records op, replacing any operation with the same key.
func (t *Tx) PutStage(op *objects.StageOp) error {
	return t.put(BucketStage, []byte(op.StageKey()), op)
}

// DeleteStage removes the operation stored under key.
func (t *Tx) DeleteStage(key string) error {
	return t.bucket(BucketStage).Delete([]byte(key))
}

// ClearStage removes every pending operation.
func (t *Tx) ClearStage() error {
	if err := t.tx.DeleteBucket(BucketStage); err != nil {
		return err
	}
	_, err := t.tx.CreateBucket(BucketStage)
	return err
}
