// Package procqueue implements the process-queue trampoline (§4.7): a
// single well-known task state that accepts an arbitrary already-built
// subtask, forwards it to its real destination queue, and reports the
// subtask's completion back through its own task. Grounded in
// original_source/tasks_required/proc_queue/src/proc_queue.cc (Server::Push,
// the kSchedule/kWaitSchedule phase machine) and
// include/proc_queue/proc_queue.h (Client::AsyncPush), adapted by dropping
// the hipc::Pointer/GetPrivatePointer indirection the original needs to
// cross a shared-memory boundary — this port already holds the subtask as a
// plain *task.Task, so the trampoline only needs to track phase and defer
// SetModuleComplete until the subtask finishes.
package procqueue

import (
	"fmt"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/serialize"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

// MethodPush is proc_queue's one user method.
const MethodPush uint32 = task.MethodFirstUser

// pushState is the trampoline task's UserData: the wrapped subtask and
// whether it has been emplaced on its destination queue yet.
type pushState struct {
	subtask   *task.Task
	scheduled bool
}

// NewPushTask wraps subtask in a trampoline task addressed to procQueueID,
// matching Client::AsyncPush.
func NewPushTask(procQueueID ids.TaskStateId, subtask *task.Task) *task.Task {
	t := task.New(procQueueID, ids.NullTaskNode(), ids.Local(), subtask.Hash, MethodPush)
	t.UserData = &pushState{subtask: subtask}
	return t
}

// Queue is the proc_queue task state.
type Queue struct {
	id     ids.TaskStateId
	queues *queuemgr.Manager
}

// New constructs the process-queue task state for this node.
func New(id ids.TaskStateId, queues *queuemgr.Manager) *Queue {
	return &Queue{id: id, queues: queues}
}

func (q *Queue) ID() ids.TaskStateId { return q.id }
func (q *Queue) Name() string        { return "proc_queue" }

// Run implements the kSchedule/kWaitSchedule phase machine: on first entry,
// emplace the subtask on its real queue (completing immediately if the
// subtask is both fire-and-forget and unordered, since nothing will ever
// observe its completion); on later visits, complete once the subtask does.
func (q *Queue) Run(method uint32, t *task.Task) error {
	switch method {
	case task.MethodConstruct, task.MethodDestruct:
		t.SetModuleComplete()
		return nil
	case MethodPush:
		return q.push(t)
	default:
		return fmt.Errorf("procqueue: no user method %d", method)
	}
}

func (q *Queue) push(t *task.Task) error {
	ps, ok := t.UserData.(*pushState)
	if !ok {
		return fmt.Errorf("procqueue: task carries no pushState")
	}

	if !ps.scheduled {
		qu, ok := q.queues.GetQueue(ids.QueueId(ps.subtask.TaskStateID()))
		if !ok {
			return fmt.Errorf("procqueue: no queue for task state %s", ps.subtask.TaskStateID())
		}
		if err := qu.Emplace(ps.subtask.Hash, ps.subtask); err != nil {
			return fmt.Errorf("procqueue: emplacing subtask: %w", err)
		}
		ps.scheduled = true
		if ps.subtask.IsFireAndForget() && ps.subtask.IsUnordered() {
			t.SetModuleComplete()
			return nil
		}
	}

	if ps.subtask.IsComplete() {
		t.SetModuleComplete()
	}
	return nil
}

// GetGroup reports Unordered: the trampoline itself never needs to
// serialize against other pushes (the subtask's own group key, if any, is
// enforced by the worker that eventually runs it on its real queue).
func (q *Queue) GetGroup(uint32, *task.Task) plug.GroupKey { return plug.Unordered }

// SaveStart/LoadStart/SaveEnd/LoadEnd are unimplemented: a trampoline task
// is pure local indirection over an in-process pointer and is never a valid
// target of remote dispersal.
func (q *Queue) SaveStart(uint32, *serialize.OutputArchive, *task.Task) ([]serialize.DataTransfer, error) {
	return nil, fmt.Errorf("procqueue: push tasks are not remotely dispatchable")
}
func (q *Queue) LoadStart(uint32, *serialize.InputArchive, *task.Task) error {
	return fmt.Errorf("procqueue: push tasks are not remotely dispatchable")
}
func (q *Queue) SaveEnd(uint32, *serialize.OutputArchive, *task.Task) error {
	return fmt.Errorf("procqueue: push tasks are not remotely dispatchable")
}
func (q *Queue) LoadEnd(int, uint32, *serialize.InputArchive, *task.Task) error {
	return fmt.Errorf("procqueue: push tasks are not remotely dispatchable")
}
func (q *Queue) ReplicateStart(int, *task.Task) error { return nil }
func (q *Queue) ReplicateEnd(*task.Task) error        { return nil }
