package cas

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/sirupsen/logrus"
)

// ErrMissingRecordData is returned when a record's content is not available
// locally and no fetcher could provide it.
var ErrMissingRecordData = errors.New("missing record data")

// Fetcher retrieves blobs the local store does not have, typically from a
// remote peer.
type Fetcher interface {
	Fetch(ctx context.Context, hash Hash) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, hash Hash) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, hash Hash) ([]byte, error) {
	return f(ctx, hash)
}

// Content is the content store used by the engine. It answers whether a
// record's data is present, restores records onto disk and fingerprints
// working files.
type Content struct {
	store   CAS
	fetcher Fetcher
	logger  logrus.FieldLogger

	// NewBackOff builds the retry policy for fetches.
	NewBackOff func() backoff.BackOff
}

// NewContent wraps store. A nil logger discards output.
func NewContent(store CAS, logger logrus.FieldLogger) *Content {
	if logger == nil {
		logger = config.DiscardLogger()
	}
	return &Content{
		store:  store,
		logger: logger,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

// SetFetcher installs the collaborator used to satisfy missing data.
func (c *Content) SetFetcher(f Fetcher) {
	c.fetcher = f
}

// Scratch returns a Content that writes to an in-memory layer over the same
// store and fetcher. Blobs written through it are discarded with it.
func (c *Content) Scratch() *Content {
	return &Content{
		store:      &Overlay{Front: NewMemoryCAS(), Back: c.store},
		fetcher:    c.fetcher,
		logger:     c.logger,
		NewBackOff: c.NewBackOff,
	}
}

// CAS returns the underlying blob store.
func (c *Content) CAS() CAS {
	return c.store
}

// HasData reports whether r can be restored without fetching. Directories
// and symlinks carry no blob.
func (c *Content) HasData(r *objects.Record) (bool, error) {
	if r.IsDir() || r.IsSymlink() {
		return true, nil
	}
	h, err := ParseHash(r.Fingerprint)
	if err != nil {
		return false, err
	}
	return c.store.Has(h)
}

// Ensure makes the data of r available locally, fetching it if needed.
func (c *Content) Ensure(ctx context.Context, r *objects.Record) error {
	ok, err := c.HasData(r)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if c.fetcher == nil {
		return fmt.Errorf("%s: %w", r.CanonicalName, ErrMissingRecordData)
	}

	h, err := ParseHash(r.Fingerprint)
	if err != nil {
		return err
	}
	logger := c.logger.WithField("path", r.CanonicalName).WithField("action", "fetch")
	err = backoff.Retry(func() error {
		data, err := c.fetcher.Fetch(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.WithError(err).Debug("fetch attempt failed")
			return err
		}
		if err := c.store.Put(h, data); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(c.NewBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("%s: %w: %v", r.CanonicalName, ErrMissingRecordData, err)
	}
	logger.Debug("fetched missing record data")
	return nil
}

// Read returns the content of a file record.
func (c *Content) Read(ctx context.Context, r *objects.Record) ([]byte, error) {
	if r.IsDir() {
		return nil, fmt.Errorf("%s: record is a directory", r.CanonicalName)
	}
	if r.IsSymlink() {
		return []byte(r.Fingerprint), nil
	}
	if err := c.Ensure(ctx, r); err != nil {
		return nil, err
	}
	h, err := ParseHash(r.Fingerprint)
	if err != nil {
		return nil, err
	}
	return c.store.Get(h)
}

// Restore writes r to dest, replacing whatever is there.
func (c *Content) Restore(ctx context.Context, r *objects.Record, dest string) error {
	if r.IsDir() {
		return os.MkdirAll(dest, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", r.CanonicalName, err)
	}

	if r.IsSymlink() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", r.CanonicalName, err)
		}
		return os.Symlink(r.Fingerprint, dest)
	}

	data, err := c.Read(ctx, r)
	if err != nil {
		return err
	}
	return WriteFile(dest, data, r)
}

// WriteFile atomically writes data to dest with the mode and mtime of r.
func WriteFile(dest string, data []byte, r *objects.Record) error {
	mode := os.FileMode(0644)
	if r != nil && r.Attributes.Has(objects.AttrExecutable) {
		mode = 0755
	}
	if r != nil && r.Attributes.Has(objects.AttrReadOnly) {
		mode &^= 0222
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".brokkr-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, mode)
	}
	if err == nil {
		err = os.Rename(tmpPath, dest)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if r != nil && !r.ModTime.IsZero() {
		_ = os.Chtimes(dest, r.ModTime, r.ModTime)
	}
	return nil
}

// ComputeFingerprint hashes the file at path.
func (c *Content) ComputeFingerprint(path string) (string, error) {
	h, _, err := SumFile(path)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// StoreFile copies the file at path into the store and returns its
// fingerprint and size.
func (c *Content) StoreFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	h, err := c.StoreBytes(data)
	if err != nil {
		return "", 0, err
	}
	return h.String(), int64(len(data)), nil
}

// StoreBytes puts data into the store.
func (c *Content) StoreBytes(data []byte) (Hash, error) {
	h := SumB3(data)
	if err := c.store.Put(h, data); err != nil {
		return h, fmt.Errorf("store blob %s: %w", h, err)
	}
	return h, nil
}
