package admin

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/orchestrator"
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

type stubState struct {
	id   ids.TaskStateId
	name string
}

func (s *stubState) ID() ids.TaskStateId                       { return s.id }
func (s *stubState) Name() string                               { return s.name }
func (s *stubState) Run(uint32, *task.Task) error                { return nil }
func (s *stubState) GetGroup(uint32, *task.Task) plug.GroupKey   { return plug.Unordered }
func (s *stubState) SaveStart(uint32, *serialize.OutputArchive, *task.Task) ([]serialize.DataTransfer, error) {
	return nil, nil
}
func (s *stubState) LoadStart(uint32, *serialize.InputArchive, *task.Task) error { return nil }
func (s *stubState) SaveEnd(uint32, *serialize.OutputArchive, *task.Task) error  { return nil }
func (s *stubState) LoadEnd(int, uint32, *serialize.InputArchive, *task.Task) error {
	return nil
}
func (s *stubState) ReplicateStart(int, *task.Task) error { return nil }
func (s *stubState) ReplicateEnd(*task.Task) error        { return nil }

func newTestAdmin(t *testing.T) (*Admin, *registry.Registry, *queuemgr.Manager) {
	t.Helper()
	reg := registry.New(ids.NodeId(1), afero.NewMemMapFs())
	qmgr, err := queuemgr.NewManager(ids.NodeId(1))
	require.NoError(t, err)
	orch := orchestrator.New(ids.NodeId(1), 1, reg, nil, discardLog())
	return New(reg, qmgr, orch, discardLog()), reg, qmgr
}

func TestRegisterAndCreateTaskState(t *testing.T) {
	a, reg, qmgr := newTestAdmin(t)

	regTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodRegisterTaskLib)
	ctor := func(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
		return &stubState{id: id, name: name}, nil
	}
	regTask.UserData = &RegisterTaskLibArgs{LibName: "mylib", Ctor: ctor}
	require.NoError(t, a.Run(MethodRegisterTaskLib, regTask))
	require.True(t, regTask.IsModuleComplete())
	require.True(t, reg.HasLib("mylib"))

	createTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodCreateTaskState)
	cArgs := &CreateTaskStateArgs{
		LibName:      "mylib",
		StateName:    "svc1",
		QueueParams:  queuemgr.Params{MaxLanes: 2, NumLanes: 2, Depth: 8},
		ConstructArg: task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct),
	}
	createTask.UserData = cArgs
	require.NoError(t, a.Run(MethodCreateTaskState, createTask))
	require.True(t, createTask.IsModuleComplete())
	require.False(t, cArgs.ResultID.IsNull())

	q, ok := qmgr.GetQueue(ids.QueueId(cArgs.ResultID))
	require.True(t, ok)
	require.Equal(t, 2, q.NumLanes())
	require.Equal(t, 2, q.NumScheduled(), "admin must schedule a freshly created queue's lanes")
}

func TestCreateTaskStateIdempotentOnExistingName(t *testing.T) {
	a, _, _ := newTestAdmin(t)

	ctor := func(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
		return &stubState{id: id, name: name}, nil
	}
	regTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodRegisterTaskLib)
	regTask.UserData = &RegisterTaskLibArgs{LibName: "mylib", Ctor: ctor}
	require.NoError(t, a.Run(MethodRegisterTaskLib, regTask))

	mk := func() *CreateTaskStateArgs {
		return &CreateTaskStateArgs{
			LibName:      "mylib",
			StateName:    "dup",
			ConstructArg: task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct),
		}
	}
	t1 := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodCreateTaskState)
	args1 := mk()
	t1.UserData = args1
	require.NoError(t, a.Run(MethodCreateTaskState, t1))

	t2 := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodCreateTaskState)
	args2 := mk()
	t2.UserData = args2
	require.NoError(t, a.Run(MethodCreateTaskState, t2))

	require.Equal(t, args1.ResultID, args2.ResultID)
}

func TestDestroyTaskStateRemovesQueueAndBinding(t *testing.T) {
	a, reg, qmgr := newTestAdmin(t)
	ctor := func(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
		return &stubState{id: id, name: name}, nil
	}
	regTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodRegisterTaskLib)
	regTask.UserData = &RegisterTaskLibArgs{LibName: "mylib", Ctor: ctor}
	require.NoError(t, a.Run(MethodRegisterTaskLib, regTask))

	createTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodCreateTaskState)
	cArgs := &CreateTaskStateArgs{
		LibName:      "mylib",
		StateName:    "svc2",
		QueueParams:  queuemgr.Params{MaxLanes: 1, NumLanes: 1, Depth: 8},
		ConstructArg: task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct),
	}
	createTask.UserData = cArgs
	require.NoError(t, a.Run(MethodCreateTaskState, createTask))

	destroyTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodDestroyTaskState)
	destroyTask.UserData = &DestroyTaskStateArgs{ID: cArgs.ResultID}
	require.NoError(t, a.Run(MethodDestroyTaskState, destroyTask))

	_, ok := qmgr.GetQueue(ids.QueueId(cArgs.ResultID))
	require.False(t, ok)
	_, ok = reg.GetTaskStateId("svc2")
	require.False(t, ok)
}

func TestStopRuntimeClosesStopRequested(t *testing.T) {
	a, _, _ := newTestAdmin(t)
	stopTask := task.New(a.ID(), ids.NullTaskNode(), ids.Local(), 0, MethodStopRuntime)
	require.NoError(t, a.Run(MethodStopRuntime, stopTask))
	select {
	case <-a.StopRequested():
	default:
		t.Fatal("StopRequested channel must be closed after stop_runtime")
	}
}
