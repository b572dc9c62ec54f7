package command

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/admin"
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

func (s *stubState) ID() ids.TaskStateId                     { return s.id }
func (s *stubState) Name() string                            { return s.name }
func (s *stubState) Run(uint32, *task.Task) error             { return nil }
func (s *stubState) GetGroup(uint32, *task.Task) plug.GroupKey { return plug.Unordered }
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

// newTestHandler wires a CommandHandler against an in-memory registry with
// "mylib" already registered directly (bypassing the .so loader, which
// lib.register exercises separately): handleTaskCreate et al. need a real
// lib to create a state against.
func newTestHandler(t *testing.T) *CommandHandler {
	t.Helper()
	reg := registry.New(ids.NodeId(1), afero.NewMemMapFs())
	qmgr, err := queuemgr.NewManager(ids.NodeId(1))
	require.NoError(t, err)
	orch := orchestrator.New(ids.NodeId(1), 1, reg, nil, discardLog())
	a := admin.New(reg, qmgr, orch, discardLog())

	ctor := func(_ *task.Task, id ids.TaskStateId, name string) (plug.TaskState, error) {
		return &stubState{id: id, name: name}, nil
	}
	require.NoError(t, reg.RegisterLib("mylib", "", ctor, nil))

	return NewCommandHandler(a, reg, nil, discardLog())
}

func call(h *CommandHandler, method string, params interface{}) Response {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return h.Handle(context.Background(), Command{Method: method, Params: raw, ID: "1"})
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "bogus.method", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleTaskCreateGetDestroyRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	createResp := call(h, "task.create", TaskCreateParams{
		LibName: "mylib", StateName: "svc1", MaxLanes: 2, NumLanes: 2, Depth: 8,
	})
	require.Nil(t, createResp.Error)
	result := createResp.Result.(map[string]interface{})
	stateID := result["state_id"].(string)
	require.NotEmpty(t, stateID)

	getResp := call(h, "task.get", TaskGetParams{StateName: "svc1"})
	require.Nil(t, getResp.Error)
	require.Equal(t, stateID, getResp.Result.(map[string]interface{})["state_id"])

	destroyResp := call(h, "task.destroy", TaskDestroyParams{StateID: stateID})
	require.Nil(t, destroyResp.Error)

	missingResp := call(h, "task.get", TaskGetParams{StateName: "svc1"})
	require.NotNil(t, missingResp.Error)
	require.Equal(t, ErrCodeInvalidParams, missingResp.Error.Code)
}

func TestHandleTaskDestroyRejectsUnparsableStateID(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "task.destroy", TaskDestroyParams{StateID: "not-an-id"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandleSetQueuePolicyRejectsUnknownPolicy(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "runtime.set_queue_policy", SetQueuePolicyParams{Policy: "nonsense"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandleSetQueuePolicyAcceptsKnownPolicy(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "runtime.set_queue_policy", SetQueuePolicyParams{Policy: "hash_ring"})
	require.Nil(t, resp.Error)
}

func TestHandleSetProcessPolicyAcceptsKnownPolicy(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "runtime.set_process_policy", SetProcessPolicyParams{Policy: "round_robin_cpu"})
	require.Nil(t, resp.Error)
}

func TestHandleRuntimeStopClosesStopRequested(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "runtime.stop", nil)
	require.Nil(t, resp.Error)
	select {
	case <-h.admin.StopRequested():
	default:
		t.Fatal("expected StopRequested to be closed after runtime.stop")
	}
}

func TestHandleLibRegisterSurfacesLoaderError(t *testing.T) {
	h := newTestHandler(t)
	resp := call(h, "lib.register", LibRegisterParams{LibName: "does-not-exist"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleInvalidParamsJSON(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "task.create", Params: json.RawMessage(`{`), ID: "1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}
