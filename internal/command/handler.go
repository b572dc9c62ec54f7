// Package command implements the labstorctl control channel: a JSON-RPC 2.0
// protocol carried over a Unix domain socket, translating CLI requests into
// admin task state (internal/admin) invocations, or — for dynamic library
// loading, which resolves a Go plugin symbol and so can never cross the
// wire as task UserData — directly into the registry's loader. Dispatch is
// by method name (lib.register, task.create, runtime.stop, ...), matching
// labstor_admin's register_task_lib/create_task_state/... operations.
package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lukemartinlogan/labstor/internal/admin"
	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/orchestrator"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/task"
)

// Command represents a control-plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 reserved error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// CommandHandler dispatches labstorctl commands onto the admin task state
// and the registry's loader. It calls admin.Admin.Run directly rather than
// emplacing a task onto the admin queue and waiting for a worker: labstorctl
// always runs co-located with the daemon it controls (the socket is
// process-local), so it has no need to round-trip through the worker pool
// the way a remote caller's dispatch does (see internal/remote for that
// path).
type CommandHandler struct {
	admin       *admin.Admin
	registry    *registry.Registry
	searchPaths []string
	log         *logrus.Entry
}

// NewCommandHandler constructs a control-channel handler.
func NewCommandHandler(a *admin.Admin, reg *registry.Registry, searchPaths []string, log *logrus.Entry) *CommandHandler {
	return &CommandHandler{admin: a, registry: reg, searchPaths: searchPaths, log: log.WithField("component", "command")}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	h.log.WithField("method", cmd.Method).WithField("id", cmd.ID).Debug("handling command")

	switch cmd.Method {
	case "lib.register":
		return h.handleLibRegister(cmd)
	case "lib.destroy":
		return h.handleLibDestroy(cmd)
	case "task.create":
		return h.handleTaskCreate(cmd)
	case "task.get":
		return h.handleTaskGet(cmd)
	case "task.destroy":
		return h.handleTaskDestroy(cmd)
	case "runtime.stop":
		return h.handleRuntimeStop(cmd)
	case "runtime.set_queue_policy":
		return h.handleSetQueuePolicy(cmd)
	case "runtime.set_process_policy":
		return h.handleSetProcessPolicy(cmd)
	default:
		return errResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// adminTask builds and runs a one-shot admin task against h.admin, the way
// handleLibRegister et al. need it: admin tasks always run to completion
// inside a single Run call (see admin.Admin.GetGroup), so there is nothing
// to poll afterward.
func (h *CommandHandler) adminTask(method uint32, userData interface{}) (*task.Task, error) {
	t := task.New(h.admin.ID(), ids.NullTaskNode(), ids.Local(), 0, method)
	t.UserData = userData
	if err := h.admin.Run(method, t); err != nil {
		return nil, err
	}
	return t, nil
}

// LibRegisterParams names a task library on disk. Unlike admin's
// RegisterTaskLibArgs, no constructor closure travels here: the registry's
// loader (internal/registry/loader.go) resolves CreateState/GetTaskLibName
// by symbol lookup against the process's search path.
type LibRegisterParams struct {
	LibName string `json:"lib_name"`
}

func (h *CommandHandler) handleLibRegister(cmd Command) Response {
	var p LibRegisterParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := h.registry.RegisterTaskLib(h.searchPaths, p.LibName); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"lib_name": p.LibName, "status": "registered"}}
}

// LibDestroyParams is lib.destroy's parameter set.
type LibDestroyParams struct {
	LibName string `json:"lib_name"`
}

func (h *CommandHandler) handleLibDestroy(cmd Command) Response {
	var p LibDestroyParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	args := &admin.DestroyTaskLibArgs{LibName: p.LibName}
	if _, err := h.adminTask(admin.MethodDestroyTaskLib, args); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"lib_name": p.LibName, "status": "destroyed"}}
}

// TaskCreateParams is task.create's parameter set.
type TaskCreateParams struct {
	LibName   string `json:"lib_name"`
	StateName string `json:"state_name"`
	MaxLanes  int    `json:"max_lanes"`
	NumLanes  int    `json:"num_lanes"`
	Depth     int    `json:"depth"`
}

func (h *CommandHandler) handleTaskCreate(cmd Command) Response {
	var p TaskCreateParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	ctorArg := task.New(h.admin.ID(), ids.NullTaskNode(), ids.Local(), 0, task.MethodConstruct)
	args := &admin.CreateTaskStateArgs{
		LibName:      p.LibName,
		StateName:    p.StateName,
		QueueParams:  queueParams(p),
		ConstructArg: ctorArg,
	}
	t, err := h.adminTask(admin.MethodCreateTaskState, args)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	if !t.IsModuleComplete() {
		return errResponse(cmd.ID, ErrCodeInternalError, "create_task_state did not complete")
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"state_id": args.ResultID.String()}}
}

// TaskGetParams is task.get's parameter set.
type TaskGetParams struct {
	StateName string `json:"state_name"`
}

func (h *CommandHandler) handleTaskGet(cmd Command) Response {
	var p TaskGetParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	args := &admin.GetTaskStateIdArgs{StateName: p.StateName}
	if _, err := h.adminTask(admin.MethodGetTaskStateId, args); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	if !args.Found {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("no task state named %q", p.StateName))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"state_id": args.ResultID.String()}}
}

// TaskDestroyParams is task.destroy's parameter set.
type TaskDestroyParams struct {
	StateID string `json:"state_id"`
}

func (h *CommandHandler) handleTaskDestroy(cmd Command) Response {
	var p TaskDestroyParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	id, err := ids.ParseUniqueId(p.StateID)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	args := &admin.DestroyTaskStateArgs{ID: id}
	if _, err := h.adminTask(admin.MethodDestroyTaskState, args); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"state_id": p.StateID, "status": "destroyed"}}
}

func (h *CommandHandler) handleRuntimeStop(cmd Command) Response {
	if _, err := h.adminTask(admin.MethodStopRuntime, nil); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "stopping"}}
}

// SetQueuePolicyParams is runtime.set_queue_policy's parameter set.
type SetQueuePolicyParams struct {
	Policy string `json:"policy"` // "round_robin" | "hash_ring"
}

func (h *CommandHandler) handleSetQueuePolicy(cmd Command) Response {
	var p SetQueuePolicyParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	policy, err := parseQueuePolicy(p.Policy)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	args := &admin.SetQueuePolicyArgs{Policy: policy}
	if _, err := h.adminTask(admin.MethodSetQueuePolicy, args); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "applied"}}
}

// SetProcessPolicyParams is runtime.set_process_policy's parameter set.
type SetProcessPolicyParams struct {
	Policy string `json:"policy"` // "no_affinity" | "round_robin_cpu"
}

func (h *CommandHandler) handleSetProcessPolicy(cmd Command) Response {
	var p SetProcessPolicyParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	policy, err := parseProcessPolicy(p.Policy)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	args := &admin.SetProcessPolicyArgs{Policy: policy}
	if _, err := h.adminTask(admin.MethodSetProcessPolicy, args); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "applied"}}
}

func queueParams(p TaskCreateParams) queuemgr.Params {
	return queuemgr.Params{MaxLanes: p.MaxLanes, NumLanes: p.NumLanes, Depth: p.Depth}
}

func parseQueuePolicy(s string) (orchestrator.QueuePolicy, error) {
	switch s {
	case "round_robin", "":
		return orchestrator.RoundRobin, nil
	case "hash_ring":
		return orchestrator.HashRing, nil
	default:
		return 0, fmt.Errorf("command: unknown queue policy %q", s)
	}
}

func parseProcessPolicy(s string) (orchestrator.ProcessPolicy, error) {
	switch s {
	case "no_affinity", "":
		return orchestrator.NoAffinity, nil
	case "round_robin_cpu":
		return orchestrator.RoundRobinCPU, nil
	default:
		return 0, fmt.Errorf("command: unknown process policy %q", s)
	}
}
