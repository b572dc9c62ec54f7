package procqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/task"
)

func TestPushSchedulesSubtaskOnDestinationQueue(t *testing.T) {
	qmgr, err := queuemgr.NewManager(ids.NodeId(1))
	require.NoError(t, err)

	destID := ids.TaskStateId{NodeID: 1, Unique: 9}
	_, err = qmgr.CreateQueue(&destID, queuemgr.Params{MaxLanes: 1, NumLanes: 1, Depth: 8})
	require.NoError(t, err)

	pq := New(ids.TaskStateId{NodeID: 1, Unique: 20}, qmgr)

	sub := task.New(destID, ids.NullTaskNode(), ids.Local(), 0, task.MethodFirstUser, task.Unordered)
	trampoline := NewPushTask(pq.ID(), sub)

	require.NoError(t, pq.Run(MethodPush, trampoline))
	require.False(t, trampoline.IsModuleComplete(), "must wait for the subtask before completing")

	destQ, ok := qmgr.GetQueue(ids.QueueId(destID))
	require.True(t, ok)
	slot, ok, err := destQ.Pop(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, sub, slot.Payload)

	sub.SetComplete()
	require.NoError(t, pq.Run(MethodPush, trampoline))
	require.True(t, trampoline.IsModuleComplete())
}

func TestPushFireAndForgetUnorderedCompletesImmediately(t *testing.T) {
	qmgr, err := queuemgr.NewManager(ids.NodeId(1))
	require.NoError(t, err)

	destID := ids.TaskStateId{NodeID: 1, Unique: 9}
	_, err = qmgr.CreateQueue(&destID, queuemgr.Params{MaxLanes: 1, NumLanes: 1, Depth: 8})
	require.NoError(t, err)

	pq := New(ids.TaskStateId{NodeID: 1, Unique: 21}, qmgr)
	sub := task.New(destID, ids.NullTaskNode(), ids.Local(), 0, task.MethodFirstUser, task.Unordered, task.FireAndForget)
	trampoline := NewPushTask(pq.ID(), sub)

	require.NoError(t, pq.Run(MethodPush, trampoline))
	require.True(t, trampoline.IsModuleComplete())
}
