package runtime

import (
	"testing"
	"time"

	"github.com/chainforge/evmindex/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestShutdownCancelsDoneChannel(t *testing.T) {
	c := New(logger.NewNopLogger())

	select {
	case <-c.Done():
		t.Fatal("done channel must not be closed before Shutdown")
	default:
	}

	c.Shutdown()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel must close immediately after Shutdown")
	}
}

func TestWaitForDrainReturnsTrueOnceEveryTrackedUnitCompletes(t *testing.T) {
	c := New(logger.NewNopLogger())

	done1 := c.Track()
	done2 := c.Track()

	go func() {
		time.Sleep(10 * time.Millisecond)
		done1()
		done2()
	}()

	require.True(t, c.WaitForDrain())
}

func TestWaitForDrainReturnsFalseWhenWorkOutlivesGracefulWindow(t *testing.T) {
	c := New(logger.NewNopLogger())
	done := c.Track()
	defer done()

	start := time.Now()
	drained := c.WaitForDrain()
	elapsed := time.Since(start)

	require.False(t, drained)
	require.GreaterOrEqual(t, elapsed, GracefulWindow)
}

func TestWaitForDrainReturnsTrueImmediatelyWithNoTrackedWork(t *testing.T) {
	c := New(logger.NewNopLogger())
	require.True(t, c.WaitForDrain())
}
