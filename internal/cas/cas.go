// Package cas provides content-addressable blob storage keyed by BLAKE3
// digests, and the content store used by the engine to hash, keep and
// restore file data.
package cas

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"lukechampine.com/blake3"
)

// ErrNotFound is returned when a blob is not present in the store.
var ErrNotFound = errors.New("blob not found")

// Hash represents a BLAKE3-256 hash value.
type Hash [32]byte

// String returns the hexadecimal representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex fingerprint.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// SumB3 computes the BLAKE3 hash of the given data.
func SumB3(data []byte) Hash {
	return blake3.Sum256(data)
}

// SumReader streams r through BLAKE3 and returns the digest and byte count.
func SumReader(r io.Reader) (Hash, int64, error) {
	var h Hash
	hasher := blake3.New(32, nil)
	n, err := io.Copy(hasher, r)
	if err != nil {
		return h, n, err
	}
	copy(h[:], hasher.Sum(nil))
	return h, n, nil
}

// SumFile hashes the file at path without loading it into memory.
func SumFile(path string) (Hash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, 0, err
	}
	defer f.Close()
	return SumReader(f)
}

// CAS defines the content-addressable storage interface.
type CAS interface {
	// Put stores data keyed by its hash.
	Put(hash Hash, data []byte) error

	// Get retrieves data by its hash.
	Get(hash Hash) ([]byte, error)

	// Has checks if data exists for the given hash.
	Has(hash Hash) (bool, error)
}

// MemoryCAS implements CAS in memory. It is used for virtual merge bases
// and in tests.
type MemoryCAS struct {
	mu   sync.RWMutex
	data map[Hash][]byte
}

// NewMemoryCAS creates a new in-memory CAS.
func NewMemoryCAS() *MemoryCAS {
	return &MemoryCAS{
		data: make(map[Hash][]byte),
	}
}

func (m *MemoryCAS) Put(hash Hash, data []byte) error {
	if computed := SumB3(data); computed != hash {
		return fmt.Errorf("hash mismatch: expected %s, got %s", hash, computed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryCAS) Get(hash Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryCAS) Has(hash Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[hash]
	return ok, nil
}

// Len returns the number of objects stored in the CAS.
func (m *MemoryCAS) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Overlay reads through a writable front store to a read-only back store.
// Writes only reach the front.
type Overlay struct {
	Front CAS
	Back  CAS
}

func (o *Overlay) Put(hash Hash, data []byte) error {
	return o.Front.Put(hash, data)
}

func (o *Overlay) Get(hash Hash) ([]byte, error) {
	data, err := o.Front.Get(hash)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return o.Back.Get(hash)
}

func (o *Overlay) Has(hash Hash) (bool, error) {
	ok, err := o.Front.Has(hash)
	if err != nil || ok {
		return ok, err
	}
	return o.Back.Has(hash)
}
