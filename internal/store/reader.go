package store

import (
	"github.com/google/uuid"
	"github.com/javanhut/brokkr/internal/objects"
)

// The methods below run single operations in their own transaction. They
// let the DB serve as the record store of the consolidator and the graph of
// the ancestry walker.

// Version loads a version by id.
func (db *DB) Version(id objects.VersionID) (v *objects.Version, err error) {
	err = db.View(func(tx *Tx) error {
		v, err = tx.Version(id)
		return err
	})
	return v, err
}

// MergeSources returns the non-primary parents of a version.
func (db *DB) MergeSources(id objects.VersionID) (ids []objects.VersionID, err error) {
	err = db.View(func(tx *Tx) error {
		ids, err = tx.MergeSources(id)
		return err
	})
	return ids, err
}

// NearestSnapshot finds the reconstruction base of a version.
func (db *DB) NearestSnapshot(id objects.VersionID) (ref *objects.SnapshotRef, records []*objects.Record, err error) {
	err = db.View(func(tx *Tx) error {
		ref, records, err = tx.NearestSnapshot(id)
		return err
	})
	return ref, records, err
}

// AlterationsFor returns the chronological alterations of ref's chain.
func (db *DB) AlterationsFor(ref *objects.SnapshotRef) (alts []*objects.Alteration, err error) {
	err = db.View(func(tx *Tx) error {
		alts, err = tx.AlterationsFor(ref)
		return err
	})
	return alts, err
}

// PersistSnapshot materializes records as the snapshot of a version.
func (db *DB) PersistSnapshot(id objects.VersionID, records []*objects.Record) (key uuid.UUID, err error) {
	err = db.Update(func(tx *Tx) error {
		key, err = tx.PersistSnapshot(id, records)
		return err
	})
	return key, err
}

// Head returns the single tip of a branch.
func (db *DB) Head(branch string) (id objects.VersionID, err error) {
	err = db.View(func(tx *Tx) error {
		id, err = tx.Head(branch)
		return err
	})
	return id, err
}

// Current returns the working copy's branch and base version.
func (db *DB) Current() (branch string, id objects.VersionID, err error) {
	err = db.View(func(tx *Tx) error {
		branch, id, err = tx.Current()
		return err
	})
	return branch, id, err
}

// StageOps returns all pending stage operations.
func (db *DB) StageOps() (ops []*objects.StageOp, err error) {
	err = db.View(func(tx *Tx) error {
		ops, err = tx.StageOps()
		return err
	})
	return ops, err
}
