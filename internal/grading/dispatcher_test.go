package grading

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncDispatcher_DetachesFromCallerContext(t *testing.T) {
	var sawCancel atomic.Bool
	d := NewAsyncDispatcher(func(ctx context.Context, _ string) error {
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Dispatch(ctx, "sess-1"))
	d.Wait()

	assert.False(t, sawCancel.Load())
}

func TestAsyncDispatcher_DropsDuplicateInFlight(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	d := NewAsyncDispatcher(func(context.Context, string) error {
		runs.Add(1)
		<-release
		return errors.New("ignored")
	}, nil)

	require.NoError(t, d.Dispatch(context.Background(), "sess-1"))
	require.NoError(t, d.Dispatch(context.Background(), "sess-1"))
	close(release)
	d.Wait()
	assert.Equal(t, int32(1), runs.Load())

	// Once finished, the same session may be dispatched again.
	require.NoError(t, d.Dispatch(context.Background(), "sess-1"))
	d.Wait()
	assert.Equal(t, int32(2), runs.Load())
}
