package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

func testState() ids.TaskStateId { return ids.TaskStateId{NodeID: 1, Unique: 5} }

func TestNewChildSharesRootIncrementsDepth(t *testing.T) {
	root := New(testState(), ids.TaskNode{Root: ids.TaskStateId{NodeID: 1, Unique: 9}, Depth: 0}, ids.Local(), 0, MethodFirstUser)
	child := NewChild(root, testState(), ids.Local(), 0, MethodFirstUser)
	require.True(t, child.Node.SameRoot(root.Node))
	require.Equal(t, uint32(1), child.Node.Depth)
}

func TestFlagsIndependentBits(t *testing.T) {
	tk := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser, FireAndForget, Unordered)
	require.True(t, tk.IsFireAndForget())
	require.True(t, tk.IsUnordered())
	require.False(t, tk.IsComplete())
	require.False(t, tk.IsLongRunning())
}

func TestModuleCompleteViaExternalComplete(t *testing.T) {
	tk := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser, LongRunning)
	require.False(t, tk.IsModuleComplete())
	tk.SetExternalComplete()
	require.True(t, tk.IsModuleComplete(), "external complete must be treated as module complete")
}

func TestWaitReturnsOnComplete(t *testing.T) {
	tk := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser)
	go func() {
		time.Sleep(2 * time.Millisecond)
		tk.SetComplete()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tk.Wait(ctx))
}

func TestWaitRespectsCancellation(t *testing.T) {
	tk := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := tk.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShapeDefaultsToSym(t *testing.T) {
	tk := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser)
	require.Equal(t, ShapeSym, tk.Shape())
	tk2 := New(testState(), ids.NullTaskNode(), ids.Local(), 0, MethodFirstUser, SrlAsym)
	require.Equal(t, ShapeAsym, tk2.Shape())
}
