package registry

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/serialize"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

type fakeState struct {
	id   ids.TaskStateId
	name string
}

func (f *fakeState) ID() ids.TaskStateId   { return f.id }
func (f *fakeState) Name() string          { return f.name }
func (f *fakeState) Run(uint32, *task.Task) error { return nil }
func (f *fakeState) GetGroup(uint32, *task.Task) plug.GroupKey { return plug.Unordered }
func (f *fakeState) SaveStart(uint32, *serialize.OutputArchive, *task.Task) ([]serialize.DataTransfer, error) {
	return nil, nil
}
func (f *fakeState) LoadStart(uint32, *serialize.InputArchive, *task.Task) error { return nil }
func (f *fakeState) SaveEnd(uint32, *serialize.OutputArchive, *task.Task) error  { return nil }
func (f *fakeState) LoadEnd(int, uint32, *serialize.InputArchive, *task.Task) error {
	return nil
}
func (f *fakeState) ReplicateStart(int, *task.Task) error { return nil }
func (f *fakeState) ReplicateEnd(*task.Task) error        { return nil }

func fakeCtor(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
	return &fakeState{id: id, name: name}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(ids.NodeId(1), afero.NewMemMapFs())
	require.NoError(t, r.RegisterLib("smsvc_lib", "", fakeCtor, nil))
	return r
}

func TestGetOrCreateIdempotentUnderConcurrency(t *testing.T) {
	r := newTestRegistry(t)
	ctask := task.New(r.AdminStateID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct)

	const n = 50
	gotIDs := make([]ids.TaskStateId, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			id, err := r.GetOrCreateTaskStateId("smsvc_lib", "smsvc", ctask)
			require.NoError(t, err)
			gotIDs[i] = id
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, gotIDs[0], gotIDs[i], "every concurrent get_or_create must return the same id")
	}
}

func TestCreateDestroyTaskState(t *testing.T) {
	r := newTestRegistry(t)
	ctask := task.New(r.AdminStateID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct)

	id, err := r.CreateTaskState("smsvc_lib", "mdm_v1", nil, ctask)
	require.NoError(t, err)
	require.False(t, id.IsNull())

	got, ok := r.GetTaskStateId("mdm_v1")
	require.True(t, ok)
	require.Equal(t, id, got)

	r.DestroyTaskState(id)
	_, ok = r.GetTaskStateId("mdm_v1")
	require.False(t, ok, "destroyed state must no longer resolve by name")
}

func TestCreateTaskStateNameCollisionIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctask := task.New(r.AdminStateID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct)

	id1, err := r.CreateTaskState("smsvc_lib", "dup", nil, ctask)
	require.NoError(t, err)
	id2, err := r.CreateTaskState("smsvc_lib", "dup", nil, ctask)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestGetLoadOrderTopologicallySorts(t *testing.T) {
	r := New(ids.NodeId(1), afero.NewMemMapFs())
	require.NoError(t, r.RegisterLib("a", "", fakeCtor, []string{"b"}))
	require.NoError(t, r.RegisterLib("b", "", fakeCtor, []string{"c"}))
	require.NoError(t, r.RegisterLib("c", "", fakeCtor, nil))

	order, err := r.GetLoadOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, order)
}

func TestGetLoadOrderDetectsCycle(t *testing.T) {
	r := New(ids.NodeId(1), afero.NewMemMapFs())
	require.NoError(t, r.RegisterLib("a", "", fakeCtor, []string{"b"}))
	require.NoError(t, r.RegisterLib("b", "", fakeCtor, []string{"a"}))

	_, err := r.GetLoadOrder()
	require.Error(t, err)
}
