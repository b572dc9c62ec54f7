// Package admin implements the admin task state (§12): the single
// well-known task state every client and every other task state uses to
// register/destroy task libraries, create/destroy task-state instances, and
// control runtime-wide policy and shutdown. Grounded in
// original_source/tasks_required/labstor_admin/src/labstor_admin.cc
// (Server::RegisterTaskLib .. Server::SetWorkOrchestratorProcessPolicy).
//
// Every admin operation in the original is itself a Task dispatched through
// the admin queue so it participates in the same ordering/admission
// machinery as user tasks; this port keeps that shape; args and results
// travel in task.Task.UserData (see internal/task's doc comment on that
// field) since Go has no equivalent of the original's per-task-type
// subclass layout.
package admin

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/orchestrator"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/serialize"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

// Admin task methods, assigned starting at the first user method code.
const (
	MethodRegisterTaskLib uint32 = task.MethodFirstUser + iota
	MethodDestroyTaskLib
	MethodGetOrCreateTaskStateId
	MethodCreateTaskState
	MethodGetTaskStateId
	MethodDestroyTaskState
	MethodStopRuntime
	MethodSetQueuePolicy
	MethodSetProcessPolicy
)

// RegisterTaskLibArgs is MethodRegisterTaskLib's UserData.
type RegisterTaskLibArgs struct {
	LibName string
	Path    string
	Ctor    plug.Constructor
	Deps    []string
}

// DestroyTaskLibArgs is MethodDestroyTaskLib's UserData.
type DestroyTaskLibArgs struct {
	LibName string
}

// GetOrCreateTaskStateIdArgs is MethodGetOrCreateTaskStateId's UserData;
// ResultID is populated once the task completes.
type GetOrCreateTaskStateIdArgs struct {
	LibName      string
	StateName    string
	ConstructArg *task.Task
	ResultID     ids.TaskStateId
}

// CreateTaskStateArgs is MethodCreateTaskState's UserData.
type CreateTaskStateArgs struct {
	LibName      string
	StateName    string
	ID           *ids.TaskStateId // nil to auto-allocate
	QueueParams  queuemgr.Params  // MaxLanes == 0 means "no queue" (stateless lib)
	ConstructArg *task.Task
	ResultID     ids.TaskStateId
}

// GetTaskStateIdArgs is MethodGetTaskStateId's UserData.
type GetTaskStateIdArgs struct {
	StateName string
	ResultID  ids.TaskStateId
	Found     bool
}

// DestroyTaskStateArgs is MethodDestroyTaskState's UserData.
type DestroyTaskStateArgs struct {
	ID ids.TaskStateId
}

// SetQueuePolicyArgs is MethodSetQueuePolicy's UserData.
type SetQueuePolicyArgs struct {
	Policy orchestrator.QueuePolicy
}

// SetProcessPolicyArgs is MethodSetProcessPolicy's UserData.
type SetProcessPolicyArgs struct {
	Policy orchestrator.ProcessPolicy
}

// Admin is the admin task state. It is the only task state with direct
// handles to the registry, queue manager, and orchestrator — every other
// task state reaches them indirectly by dispatching an admin task.
type Admin struct {
	id       ids.TaskStateId
	registry *registry.Registry
	queues   *queuemgr.Manager
	orch     *orchestrator.Orchestrator
	log      *logrus.Entry

	stopRequested chan struct{}
}

// New constructs the admin task state, always bound to the reserved (node,
// 0) id (registry.Registry.AdminStateID / queuemgr.Manager.AdminQueueID).
func New(reg *registry.Registry, queues *queuemgr.Manager, orch *orchestrator.Orchestrator, log *logrus.Entry) *Admin {
	return &Admin{
		id:            reg.AdminStateID(),
		registry:      reg,
		queues:        queues,
		orch:          orch,
		log:           log.WithField("component", "admin"),
		stopRequested: make(chan struct{}),
	}
}

func (a *Admin) ID() ids.TaskStateId { return a.id }
func (a *Admin) Name() string        { return "labstor_admin" }

// StopRequested is closed once MethodStopRuntime has run, for the daemon's
// bootstrap goroutine to select on.
func (a *Admin) StopRequested() <-chan struct{} { return a.stopRequested }

func (a *Admin) Run(method uint32, t *task.Task) error {
	switch method {
	case task.MethodConstruct, task.MethodDestruct:
		t.SetModuleComplete()
		return nil
	case MethodRegisterTaskLib:
		return a.registerTaskLib(t)
	case MethodDestroyTaskLib:
		return a.destroyTaskLib(t)
	case MethodGetOrCreateTaskStateId:
		return a.getOrCreateTaskStateId(t)
	case MethodCreateTaskState:
		return a.createTaskState(t)
	case MethodGetTaskStateId:
		return a.getTaskStateId(t)
	case MethodDestroyTaskState:
		return a.destroyTaskState(t)
	case MethodStopRuntime:
		return a.stopRuntime(t)
	case MethodSetQueuePolicy:
		return a.setQueuePolicy(t)
	case MethodSetProcessPolicy:
		return a.setProcessPolicy(t)
	default:
		return fmt.Errorf("admin: no user method %d", method)
	}
}

func (a *Admin) registerTaskLib(t *task.Task) error {
	args, ok := t.UserData.(*RegisterTaskLibArgs)
	if !ok {
		return fmt.Errorf("admin: register_task_lib: wrong UserData type")
	}
	if err := a.registry.RegisterLib(args.LibName, args.Path, args.Ctor, args.Deps); err != nil {
		return err
	}
	t.SetModuleComplete()
	return nil
}

func (a *Admin) destroyTaskLib(t *task.Task) error {
	args, ok := t.UserData.(*DestroyTaskLibArgs)
	if !ok {
		return fmt.Errorf("admin: destroy_task_lib: wrong UserData type")
	}
	a.registry.DestroyTaskLib(args.LibName)
	t.SetModuleComplete()
	return nil
}

func (a *Admin) getOrCreateTaskStateId(t *task.Task) error {
	args, ok := t.UserData.(*GetOrCreateTaskStateIdArgs)
	if !ok {
		return fmt.Errorf("admin: get_or_create_task_state_id: wrong UserData type")
	}
	id, err := a.registry.GetOrCreateTaskStateId(args.LibName, args.StateName, args.ConstructArg)
	if err != nil {
		return err
	}
	args.ResultID = id
	t.SetModuleComplete()
	return nil
}

// createTaskState implements §12's simplified single-phase version of
// CreateTaskState: the original's kIdAllocWait phase round-trips to a
// remote node to allocate a globally-unique id when domain_id is not local
// (an RPC this admin package would need a *remote.Queue to issue); this
// port only supports domain-local id allocation; a remote-domain request is
// rejected rather than guessed at (see DESIGN.md).
func (a *Admin) createTaskState(t *task.Task) error {
	args, ok := t.UserData.(*CreateTaskStateArgs)
	if !ok {
		return fmt.Errorf("admin: create_task_state: wrong UserData type")
	}
	if t.Domain.IsRemote(a.queues.AdminQueueID().NodeID) {
		return fmt.Errorf("admin: create_task_state: non-local domain id allocation is not supported by this runtime")
	}

	if existing, ok := a.registry.GetTaskStateId(args.StateName); ok {
		args.ResultID = existing
		t.SetModuleComplete()
		return nil
	}

	id, err := a.registry.CreateTaskState(args.LibName, args.StateName, args.ID, args.ConstructArg)
	if err != nil {
		return err
	}
	args.ResultID = id

	if args.QueueParams.MaxLanes > 0 {
		q, err := a.queues.CreateQueue(&id, args.QueueParams)
		if err != nil {
			return fmt.Errorf("admin: allocating queue for task state %s: %w", id, err)
		}
		if a.orch != nil {
			a.orch.ScheduleQueue(q)
		}
	}

	t.SetModuleComplete()
	return nil
}

func (a *Admin) getTaskStateId(t *task.Task) error {
	args, ok := t.UserData.(*GetTaskStateIdArgs)
	if !ok {
		return fmt.Errorf("admin: get_task_state_id: wrong UserData type")
	}
	id, found := a.registry.GetTaskStateId(args.StateName)
	args.ResultID = id
	args.Found = found
	t.SetModuleComplete()
	return nil
}

func (a *Admin) destroyTaskState(t *task.Task) error {
	args, ok := t.UserData.(*DestroyTaskStateArgs)
	if !ok {
		return fmt.Errorf("admin: destroy_task_state: wrong UserData type")
	}
	if q, ok := a.queues.GetQueue(ids.QueueId(args.ID)); ok && a.orch != nil {
		a.orch.UnscheduleQueue(q)
	}
	a.queues.DestroyQueue(ids.QueueId(args.ID))
	a.registry.DestroyTaskState(args.ID)
	t.SetModuleComplete()
	return nil
}

func (a *Admin) stopRuntime(t *task.Task) error {
	a.log.Info("stopping runtime")
	if a.orch != nil {
		a.orch.Finalize()
	}
	close(a.stopRequested)
	t.SetModuleComplete()
	return nil
}

// setQueuePolicy and setProcessPolicy are simplified from the original's
// long-running scheduler-task relaunch (queue_sched_/proc_sched_ tracked
// across calls, re-armed via ExternalComplete): this port's orchestrator
// applies a policy change directly rather than running it as a re-entrant
// task, since Go's orchestrator already owns that state behind a mutex.
func (a *Admin) setQueuePolicy(t *task.Task) error {
	args, ok := t.UserData.(*SetQueuePolicyArgs)
	if !ok {
		return fmt.Errorf("admin: set_work_orchestrator_queue_policy: wrong UserData type")
	}
	if a.orch != nil {
		a.orch.SetQueueSchedulingPolicy(args.Policy)
	}
	t.SetModuleComplete()
	return nil
}

func (a *Admin) setProcessPolicy(t *task.Task) error {
	args, ok := t.UserData.(*SetProcessPolicyArgs)
	if !ok {
		return fmt.Errorf("admin: set_work_orchestrator_process_policy: wrong UserData type")
	}
	if a.orch != nil {
		a.orch.SetProcessSchedulingPolicy(args.Policy)
	}
	t.SetModuleComplete()
	return nil
}

// GetGroup reports Unordered: admin operations run to completion in a
// single Run call and never need cross-task serialization.
func (a *Admin) GetGroup(uint32, *task.Task) plug.GroupKey { return plug.Unordered }

// SaveStart/LoadStart/SaveEnd/LoadEnd are unimplemented: admin tasks carry
// Go closures (Ctor) and live pointers (ConstructArg) in their UserData,
// neither of which can cross a wire; admin operations are always issued
// against a specific node's local admin queue, never dispersed.
func (a *Admin) SaveStart(uint32, *serialize.OutputArchive, *task.Task) ([]serialize.DataTransfer, error) {
	return nil, fmt.Errorf("admin: admin tasks are not remotely dispatchable")
}
func (a *Admin) LoadStart(uint32, *serialize.InputArchive, *task.Task) error {
	return fmt.Errorf("admin: admin tasks are not remotely dispatchable")
}
func (a *Admin) SaveEnd(uint32, *serialize.OutputArchive, *task.Task) error {
	return fmt.Errorf("admin: admin tasks are not remotely dispatchable")
}
func (a *Admin) LoadEnd(int, uint32, *serialize.InputArchive, *task.Task) error {
	return fmt.Errorf("admin: admin tasks are not remotely dispatchable")
}
func (a *Admin) ReplicateStart(int, *task.Task) error { return nil }
func (a *Admin) ReplicateEnd(*task.Task) error        { return nil }
