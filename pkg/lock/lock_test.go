package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ingestd/ingestd/pkg/lock"
)

func TestLockRoundTrip(t *testing.T) {
	require := require.New(t)
	l := lock.New(t.TempDir())

	release, err := l.Lock(context.Background(), "abc")
	require.NoError(err)
	release()

	release, err = l.Lock(context.Background(), "abc")
	require.NoError(err)
	release()
}

func TestLockBlocksConcurrentAcquirer(t *testing.T) {
	require := require.New(t)
	l := lock.New(t.TempDir())
	l.PollInterval = 5 * time.Millisecond

	release, err := l.Lock(context.Background(), "busy")
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "busy")
	require.ErrorIs(err, lock.ErrLocked)

	release()

	release, err = l.Lock(context.Background(), "busy")
	require.NoError(err)
	release()
}
