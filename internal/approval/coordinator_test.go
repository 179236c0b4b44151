package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoordinator_EnlistAndFireWakesWaiter(t *testing.T) {
	c := New()
	signal := c.Enlist(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.True(t, c.Fire(1))
	}()

	require.NoError(t, signal.Wait(context.Background()))
}

func TestCoordinator_FireUnknownPipelineReturnsFalse(t *testing.T) {
	c := New()
	require.False(t, c.Fire(999))
}

func TestCoordinator_EnlistReplacesStaleSignal(t *testing.T) {
	c := New()
	stale := c.Enlist(1)
	fresh := c.Enlist(1)

	require.True(t, c.Fire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, stale.Wait(ctx), context.DeadlineExceeded)
	require.NoError(t, fresh.Wait(context.Background()))
}

func TestCoordinator_ReleaseIsIdempotent(t *testing.T) {
	c := New()
	c.Enlist(1)
	c.Release(1)
	c.Release(1)
	require.False(t, c.Fire(1))
}
