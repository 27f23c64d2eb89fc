// Package store persists the history graph in a bbolt database.
//
// Every multi-step mutation runs inside a single Update closure: the
// transaction commits when the closure returns nil and rolls back on error
// or panic, so partial writes are never observable.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Buckets
var (
	BucketVersions    = []byte("versions")    // version id -> Version
	BucketMergeInfo   = []byte("mergeinfo")   // dest id + source id -> nil
	BucketRecords     = []byte("records")     // be64 record id -> Record
	BucketAlterations = []byte("alterations") // owner id + be64 seq -> alterationRow
	BucketSnapshots   = []byte("snapshots")   // snapshot key -> []RecordID
	BucketHeads       = []byte("heads")       // branch -> []VersionID
	BucketWorkspace   = []byte("workspace")   // "branch", "version"
	BucketTimeCache   = []byte("timecache")   // canonical name -> TimeEntry
	BucketStage       = []byte("stage")       // stage key -> StageOp
)

var allBuckets = [][]byte{
	BucketVersions, BucketMergeInfo, BucketRecords, BucketAlterations,
	BucketSnapshots, BucketHeads, BucketWorkspace, BucketTimeCache, BucketStage,
}

var (
	// ErrNotFound is returned when a keyed entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMultipleHeads is returned when a branch has more than one tip.
	ErrMultipleHeads = errors.New("branch has multiple heads")
)

// DB is the record store.
type DB struct {
	bolt *bbolt.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return fmt.Errorf("create bucket %s: %w", b, e)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{bolt: db, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func (db *DB) Close() error { return db.bolt.Close() }

// View runs fn in a read-only transaction.
func (db *DB) View(fn func(*Tx) error) error {
	return db.bolt.View(func(tx *bbolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Update runs fn in a read-write transaction. The transaction is committed
// only if fn returns nil.
func (db *DB) Update(fn func(*Tx) error) error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Tx is a typed view of a bbolt transaction.
type Tx struct {
	tx *bbolt.Tx
}

func (t *Tx) bucket(name []byte) *bbolt.Bucket {
	return t.tx.Bucket(name)
}

func (t *Tx) put(bucket, key []byte, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%x: %w", bucket, key, err)
	}
	return t.bucket(bucket).Put(key, data)
}

func (t *Tx) get(bucket, key []byte, v interface{}) error {
	data := t.bucket(bucket).Get(key)
	if data == nil {
		return ErrNotFound
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%x: %w", bucket, key, err)
	}
	return nil
}

func be64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
