package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

func testQueue(t *testing.T, maxLanes, numLanes, depth int) *MultiQueue[int] {
	t.Helper()
	q, err := NewMultiQueue[int](ids.QueueId{NodeID: 1, Unique: 1}, maxLanes, numLanes, depth)
	require.NoError(t, err)
	return q
}

// TestLaneFIFO checks invariant 1 from spec §8: for a single lane, tokens
// pushed in order are observed in the same order on pop.
func TestLaneFIFO(t *testing.T) {
	q := testQueue(t, 4, 1, 16)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Emplace(0, i))
	}
	for i := 0; i < 10; i++ {
		v, ok, err := q.Pop(0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, v.Payload)
	}
	_, ok, err := q.Pop(0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLaneFullIsRetryable(t *testing.T) {
	q := testQueue(t, 1, 1, 2)
	require.NoError(t, q.Emplace(0, 1))
	require.NoError(t, q.Emplace(0, 2))
	err := q.Emplace(0, 3)
	require.ErrorIs(t, err, ErrLaneFull)
}

func TestPeekDoesNotConsume(t *testing.T) {
	q := testQueue(t, 1, 1, 4)
	require.NoError(t, q.Emplace(0, 42))
	v, ok, err := q.Peek(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, v.Payload)

	v2, ok, err := q.Pop(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, v2.Payload)
}

func TestResizeGrowAndShrink(t *testing.T) {
	q := testQueue(t, 16, 4, 8)
	require.Equal(t, 4, q.NumLanes())

	q.PlugForResize()
	require.NoError(t, q.Resize(8))
	q.UnplugForResize()
	require.Equal(t, 8, q.NumLanes())

	// newly grown lanes are live and empty, usable immediately
	require.NoError(t, q.Emplace(4, 99))
	v, ok, err := q.Pop(4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 99, v.Payload)

	q.PlugForResize()
	require.NoError(t, q.Resize(4))
	q.UnplugForResize()
	require.Equal(t, 4, q.NumLanes())
}

func TestResizeShrinkNonEmptyLaneFails(t *testing.T) {
	q := testQueue(t, 16, 4, 8)
	require.NoError(t, q.Emplace(3, 1))

	q.PlugForResize()
	defer q.UnplugForResize()
	err := q.Resize(2)
	require.Error(t, err)
}

func TestResizeRequiresPlug(t *testing.T) {
	q := testQueue(t, 16, 4, 8)
	err := q.Resize(8)
	require.Error(t, err)
}

func TestEmplaceBlocksWhilePluggedForResize(t *testing.T) {
	q := testQueue(t, 4, 1, 4)
	q.PlugForResize()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, q.Emplace(0, 1))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("emplace must not complete while plugged for resize")
	default:
	}

	q.UnplugForResize()
	wg.Wait()
}
