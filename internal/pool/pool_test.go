package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkers(t *testing.T) {
	assert.Equal(t, 3, Workers(3))
	n := Workers(0)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, MaxWorkers)
}

func TestForEachBoundsConcurrency(t *testing.T) {
	var running, peak int32
	items := make([]int, 50)
	err := ForEach(context.Background(), 2, items, func(ctx context.Context, _ int) error {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int32(2))
}

func TestForEachStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), 1, []int{1, 2, 3}, func(ctx context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEachHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := int32(0)
	err := ForEach(ctx, 4, []int{1, 2, 3}, func(ctx context.Context, i int) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, called)
}

func TestMapKeepsOrder(t *testing.T) {
	out, err := Map(context.Background(), 4, []int{1, 2, 3, 4}, func(ctx context.Context, i int) (int, error) {
		return i * i, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16}, out)
}

func TestAllCollectsEveryError(t *testing.T) {
	err := All(context.Background(), 2, []int{1, 2, 3, 4}, func(ctx context.Context, i int) error {
		if i%2 == 0 {
			return errors.New("even")
		}
		return nil
	})
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
}
