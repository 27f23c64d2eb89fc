package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

// DBFileName is the database file inside the metadata directory.
const DBFileName = "brokkr.db"

// Manager owns one open database per metadata directory and the workspace
// lock guarding multi-step read-then-write sequences against it.
type Manager struct {
	db     *DB
	dbPath string
	refs   int

	// workspace serializes sequences such as status-then-commit or
	// reconstruct-then-snapshot for one workspace.
	workspace sync.Mutex
}

var (
	managers  = make(map[string]*Manager)
	managerMu sync.Mutex
)

// GetSharedDB returns a shared connection for the given metadata directory.
// Connections are reference counted and closed with the last reference.
func GetSharedDB(metaDir string) (*SharedDB, error) {
	managerMu.Lock()
	defer managerMu.Unlock()

	dbPath, err := filepath.Abs(filepath.Join(metaDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}

	m, ok := managers[dbPath]
	if !ok {
		db, err := Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		m = &Manager{db: db, dbPath: dbPath}
		managers[dbPath] = m
	}
	m.refs++

	return &SharedDB{manager: m, DB: m.db}, nil
}

// SharedDB wraps a database connection with reference counting.
type SharedDB struct {
	manager *Manager
	*DB
}

// Exclusive runs fn while holding the workspace lock. Nested calls from the
// same sequence must not call Exclusive again.
func (sdb *SharedDB) Exclusive(fn func() error) error {
	sdb.manager.workspace.Lock()
	defer sdb.manager.workspace.Unlock()
	return fn()
}

// Close decrements the reference count and closes the underlying database
// when no more references exist.
func (sdb *SharedDB) Close() error {
	if sdb.manager == nil {
		return nil
	}

	managerMu.Lock()
	defer managerMu.Unlock()

	m := sdb.manager
	sdb.manager = nil
	m.refs--
	if m.refs > 0 {
		return nil
	}
	delete(managers, m.dbPath)
	return m.db.Close()
}
