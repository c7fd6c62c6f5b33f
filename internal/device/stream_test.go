package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStream(t *testing.T) *Stream {
	t.Helper()
	dev, err := Open(0, nil)
	require.NoError(t, err)
	s := dev.NewStream()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenOnlyIndexZero(t *testing.T) {
	t.Parallel()

	dev, err := Open(0, nil)
	require.NoError(t, err)
	assert.Equal(t, "host:0", dev.String())
	assert.NotEmpty(t, dev.Info().Features)
	assert.Positive(t, dev.Info().Workers)

	_, err = Open(1, nil)
	require.ErrorIs(t, err, ErrDevice)
}

func TestStreamRunsInEnqueueOrder(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	var mu sync.Mutex
	var order []int
	for i := range 50 {
		require.NoError(t, s.Enqueue("op", func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, s.Synchronize(context.Background()))
	require.Len(t, order, 50)
	for i, v := range order {
		require.Equal(t, i, v)
	}
	assert.Zero(t, s.Pending())
}

func TestStreamErrorIsSticky(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	boom := errors.New("out of memory")
	ran := false
	require.NoError(t, s.Enqueue("alloc", func() error { return boom }))
	require.NoError(t, s.Enqueue("after", func() error { ran = true; return nil }))

	err := s.Synchronize(context.Background())
	require.ErrorIs(t, err, ErrDevice)
	require.ErrorIs(t, err, boom)
	assert.False(t, ran, "ops after a failure must be skipped")

	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "alloc", derr.Op)
	assert.Equal(t, err, s.Err())
}

func TestStreamRecoversPanics(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	require.NoError(t, s.Enqueue("kernel", func() error { panic("index out of range") }))
	err := s.Synchronize(context.Background())
	require.ErrorIs(t, err, ErrDevice)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestSynchronizeTimeout(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, s.Enqueue("slow", func() error {
		<-release
		close(finished)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Synchronize(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The queued op is not cancelled by the timeout.
	close(release)
	<-finished
	require.NoError(t, s.Synchronize(context.Background()))
}

func TestEventsMeasureElapsed(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	start, err := s.Record()
	require.NoError(t, err)
	require.NoError(t, s.Enqueue("sleep", func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	end, err := s.Record()
	require.NoError(t, err)

	require.NoError(t, end.Wait(context.Background()))
	d, err := start.Elapsed(end)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
}

func TestElapsedBeforeRecord(t *testing.T) {
	t.Parallel()
	s := newStream(t)

	release := make(chan struct{})
	require.NoError(t, s.Enqueue("block", func() error { <-release; return nil }))
	start, err := s.Record()
	require.NoError(t, err)
	end, err := s.Record()
	require.NoError(t, err)

	_, err = start.Elapsed(end)
	require.ErrorIs(t, err, ErrEventNotReady)
	close(release)
	require.NoError(t, s.Synchronize(context.Background()))
	_, err = start.Elapsed(end)
	require.NoError(t, err)
}

func TestClosedStreamRejectsWork(t *testing.T) {
	t.Parallel()
	dev, err := Open(0, nil)
	require.NoError(t, err)
	s := dev.NewStream()

	ran := false
	require.NoError(t, s.Enqueue("last", func() error { ran = true; return nil }))
	require.NoError(t, s.Close())
	assert.True(t, ran, "close drains queued work")

	require.ErrorIs(t, s.Enqueue("late", func() error { return nil }), ErrStreamClosed)
	_, err = s.Record()
	require.ErrorIs(t, err, ErrStreamClosed)
	require.ErrorIs(t, s.Synchronize(context.Background()), ErrStreamClosed)
	require.NoError(t, s.Close())
}
