package cas

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumB3(t *testing.T) {
	data := []byte("hello world")
	assert.Equal(t, SumB3(data), SumB3(data))
	assert.NotEqual(t, SumB3(data), SumB3([]byte("hello world!")))

	h, n, err := SumReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, SumB3(data), h)
	assert.EqualValues(t, len(data), n)
}

func TestParseHash(t *testing.T) {
	h := SumB3([]byte("x"))
	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abc")
	assert.Error(t, err)
	_, err = ParseHash("zz")
	assert.Error(t, err)
}

func TestMemoryCAS(t *testing.T) {
	store := NewMemoryCAS()
	data := []byte("test data")
	hash := SumB3(data)

	has, err := store.Has(hash)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Get(hash)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Put(hash, data))
	has, err = store.Has(hash)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Error(t, store.Put(SumB3([]byte("different data")), data), "mismatched hash must be rejected")
}

func TestMemoryCASConcurrency(t *testing.T) {
	store := NewMemoryCAS()
	data := []byte("concurrent test data")
	hash := SumB3(data)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(hash, data))
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.Get(hash)
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.Len())
}

func TestFileCASCompressesAndVerifies(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileCAS(root)
	require.NoError(t, err)

	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = 'a'
	}
	hash := SumB3(data)
	require.NoError(t, store.Put(hash, data))
	require.NoError(t, store.Put(hash, data), "second put is a no-op")

	info, err := os.Stat(store.getPath(hash))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)), "blob should be stored compressed")

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	missing := SumB3([]byte("nope"))
	has, err := store.Has(missing)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = store.Get(missing)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOverlayReadsThrough(t *testing.T) {
	back := NewMemoryCAS()
	front := NewMemoryCAS()
	base := []byte("base")
	require.NoError(t, back.Put(SumB3(base), base))

	o := &Overlay{Front: front, Back: back}
	got, err := o.Get(SumB3(base))
	require.NoError(t, err)
	assert.Equal(t, base, got)

	merged := []byte("merged")
	require.NoError(t, o.Put(SumB3(merged), merged))
	assert.Equal(t, 1, back.Len(), "back store is never written")
	assert.Equal(t, 1, front.Len())
}

func TestContentRestoreAndFingerprint(t *testing.T) {
	logger, _ := test.NewNullLogger()
	content := NewContent(NewMemoryCAS(), logger)
	dir := t.TempDir()

	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello\n"), 0644))
	fp, size, err := content.StoreFile(src)
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)

	computed, err := content.ComputeFingerprint(src)
	require.NoError(t, err)
	assert.Equal(t, fp, computed)

	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &objects.Record{CanonicalName: "a/b.txt", Fingerprint: fp, Size: size, ModTime: mtime, Attributes: objects.AttrExecutable}
	dest := filepath.Join(dir, "a", "b.txt")
	require.NoError(t, content.Restore(context.Background(), rec, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
	assert.NotZero(t, info.Mode()&0100)

	link := &objects.Record{CanonicalName: "link", Fingerprint: "a/b.txt", Attributes: objects.AttrSymlink}
	require.NoError(t, content.Restore(context.Background(), link, filepath.Join(dir, "link")))
	target, err := os.Readlink(filepath.Join(dir, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", target)
}

func TestContentEnsureFetchesWithRetry(t *testing.T) {
	logger, _ := test.NewNullLogger()
	content := NewContent(NewMemoryCAS(), logger)
	content.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}

	data := []byte("remote data")
	rec := &objects.Record{CanonicalName: "r.txt", Fingerprint: SumB3(data).String(), Size: int64(len(data))}

	err := content.Ensure(context.Background(), rec)
	assert.True(t, errors.Is(err, ErrMissingRecordData), "no fetcher configured")

	calls := 0
	content.SetFetcher(FetcherFunc(func(ctx context.Context, h Hash) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("temporary")
		}
		return data, nil
	}))
	require.NoError(t, content.Ensure(context.Background(), rec))
	assert.Equal(t, 3, calls)

	got, err := content.Read(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	other := &objects.Record{CanonicalName: "gone.txt", Fingerprint: SumB3([]byte("gone")).String()}
	content.SetFetcher(FetcherFunc(func(ctx context.Context, h Hash) ([]byte, error) {
		return nil, errors.New("unreachable")
	}))
	err = content.Ensure(context.Background(), other)
	assert.True(t, errors.Is(err, ErrMissingRecordData))
}

func BenchmarkSumB3(b *testing.B) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SumB3(data)
	}
}

func TestContentScratch(t *testing.T) {
	back := NewMemoryCAS()
	c := NewContent(back, nil)
	base, err := c.StoreBytes([]byte("base"))
	require.NoError(t, err)

	scratch := c.Scratch()
	tmp, err := scratch.StoreBytes([]byte("temporary"))
	require.NoError(t, err)

	got, err := scratch.Read(context.Background(), &objects.Record{CanonicalName: "b", Fingerprint: base.String(), Size: 4})
	require.NoError(t, err)
	assert.Equal(t, "base", string(got))

	ok, err := back.Has(tmp)
	require.NoError(t, err)
	assert.False(t, ok, "scratch writes stay out of the backing store")
}
