package worker

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/tevino/abool"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/serialize"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// echoState completes every task immediately on the first run, optionally
// grouping by a blobID field stashed alongside the task via a side map.
type echoState struct {
	id        ids.TaskStateId
	groupOf   map[*task.Task]plug.GroupKey
	mu        sync.Mutex
	overlap   int32
	maxOverlap int32
	counters  map[plug.GroupKey]*int32
}

func (e *echoState) ID() ids.TaskStateId { return e.id }
func (e *echoState) Name() string        { return "echo" }

func (e *echoState) Run(method uint32, t *task.Task) error {
	key := e.GetGroup(method, t)
	cur := atomic.AddInt32(&e.overlap, 1)
	for {
		old := atomic.LoadInt32(&e.maxOverlap)
		if cur <= old || atomic.CompareAndSwapInt32(&e.maxOverlap, old, cur) {
			break
		}
	}
	time.Sleep(time.Microsecond)
	if c, ok := e.counters[key]; ok {
		atomic.AddInt32(c, 1)
	}
	atomic.AddInt32(&e.overlap, -1)
	t.SetModuleComplete()
	return nil
}

func (e *echoState) GetGroup(_ uint32, t *task.Task) plug.GroupKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupOf[t]
}
func (e *echoState) SaveStart(uint32, *serialize.OutputArchive, *task.Task) ([]serialize.DataTransfer, error) {
	return nil, nil
}
func (e *echoState) LoadStart(uint32, *serialize.InputArchive, *task.Task) error { return nil }
func (e *echoState) SaveEnd(uint32, *serialize.OutputArchive, *task.Task) error  { return nil }
func (e *echoState) LoadEnd(int, uint32, *serialize.InputArchive, *task.Task) error {
	return nil
}
func (e *echoState) ReplicateStart(int, *task.Task) error { return nil }
func (e *echoState) ReplicateEnd(*task.Task) error        { return nil }

func TestPollGroupedRunsTaskToCompletion(t *testing.T) {
	reg := registry.New(ids.NodeId(1), afero.NewMemMapFs())
	state := &echoState{id: ids.TaskStateId{NodeID: 1, Unique: 2}, groupOf: map[*task.Task]plug.GroupKey{}, counters: map[plug.GroupKey]*int32{}}
	require.NoError(t, registerFake(reg, state))

	q, err := queuemgr.NewQueue(state.id, queuemgr.Params{MaxLanes: 1, NumLanes: 1, Depth: 8})
	require.NoError(t, err)

	kill := abool.New()
	w := New(0, 1, reg, nil, kill, discardLog())

	tk := task.New(state.id, ids.NullTaskNode(), ids.Local(), 0, task.MethodFirstUser, task.Unordered)
	require.NoError(t, q.Emplace(0, tk))

	ran := w.pollGrouped(WorkEntry{LaneIdx: 0, Queue: q})
	require.True(t, ran)
	require.True(t, tk.IsComplete())
}

// registerFake wires a TaskState instance directly into the registry's
// maps via RegisterLib + CreateTaskState, since real task libraries are
// loaded from .so files the test harness cannot build.
func registerFake(reg *registry.Registry, state plug.TaskState) error {
	ctor := func(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
		return state, nil
	}
	if err := reg.RegisterLib(state.Name(), "", ctor, nil); err != nil {
		return err
	}
	id := state.ID()
	ctask := task.New(id, ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct)
	_, err := reg.CreateTaskState(state.Name(), state.Name(), &id, ctask)
	return err
}

// TestGroupSerialization checks §8 property 2 / scenario S5: tasks sharing
// a group key never overlap in Run, and both group counters reach their
// expected totals.
func TestGroupSerialization(t *testing.T) {
	reg := registry.New(ids.NodeId(1), afero.NewMemMapFs())
	countA := int32(0)
	countB := int32(0)
	state := &echoState{
		id:      ids.TaskStateId{NodeID: 1, Unique: 3},
		groupOf: map[*task.Task]plug.GroupKey{},
		counters: map[plug.GroupKey]*int32{
			"A": &countA,
			"B": &countB,
		},
	}
	require.NoError(t, registerFake(reg, state))

	q, err := queuemgr.NewQueue(state.id, queuemgr.Params{MaxLanes: 1, NumLanes: 1, Depth: 256})
	require.NoError(t, err)

	kill := abool.New()
	w := New(0, 1, reg, nil, kill, discardLog())

	for i := 0; i < 100; i++ {
		key := plug.GroupKey("A")
		if i%2 == 1 {
			key = "B"
		}
		tk := task.New(state.id, ids.TaskNode{Root: ids.TaskStateId{NodeID: 1, Unique: uint64(i)}}, ids.Local(), 0, task.MethodFirstUser)
		state.mu.Lock()
		state.groupOf[tk] = key
		state.mu.Unlock()
		require.NoError(t, q.Emplace(0, tk))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for countA != 50 || countB != 50 {
		w.pollGrouped(WorkEntry{LaneIdx: 0, Queue: q})
		select {
		case <-ctx.Done():
			t.Fatalf("timed out: countA=%d countB=%d", countA, countB)
		default:
		}
	}
	require.LessOrEqual(t, atomic.LoadInt32(&state.maxOverlap), int32(1), "tasks of the same group must never overlap in Run")
}
