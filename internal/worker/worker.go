// Package worker implements the per-thread cooperative polling loop: task-
// group admission, local execution, and handoff to the remote dispatcher.
// Grounded in original_source/include/labstor/work_orchestrator/worker.h
// and src/worker.cc (CheckTaskGroup/RemoveTaskGroup, PollGrouped), simplified
// to a single worker role (no PollPrimary/IsPrimary split).
package worker

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

// maxIterationsPerVisit bounds a single poll_grouped call so one lane can
// never starve the others in a worker's work queue (§4.4 "Up to N (N=1024)
// iterations").
const maxIterationsPerVisit = 1024

// RemoteDispatcher is the contract the worker needs from the remote queue
// plugin (§4.6): hand off a task whose domain is not local. Expressed as an
// interface here (not a direct import of internal/remote) so the remote
// package can depend on worker/registry without a cycle.
type RemoteDispatcher interface {
	Disperse(t *task.Task, state plug.TaskState) error
}

// WorkEntry is one (lane, queue) pair a worker is responsible for polling.
type WorkEntry struct {
	LaneIdx int
	Queue   *queuemgr.Queue
}

// Worker owns a private work queue, a group map for task-group admission,
// and the two SPSC control channels the orchestrator uses to move lanes
// in/out of its responsibility.
type Worker struct {
	ID     int
	nodeID ids.NodeId

	registry *registry.Registry
	remote   RemoteDispatcher
	log      *logrus.Entry

	workQueue []WorkEntry
	pollReq   chan WorkEntry
	relinqReq chan WorkEntry

	groupMap map[plug.GroupKey]ids.TaskNode

	ContinuousPolling *abool.AtomicBool
	SleepUs           time.Duration
	killRequested     *abool.AtomicBool
}

// New constructs a worker. killRequested is shared with the orchestrator
// that owns the whole pool's shutdown signal.
func New(id int, nodeID ids.NodeId, reg *registry.Registry, remote RemoteDispatcher, killRequested *abool.AtomicBool, log *logrus.Entry) *Worker {
	return &Worker{
		ID:                id,
		nodeID:            nodeID,
		registry:          reg,
		remote:            remote,
		log:               log.WithField("worker_id", id),
		pollReq:           make(chan WorkEntry, 256),
		relinqReq:         make(chan WorkEntry, 256),
		groupMap:          make(map[plug.GroupKey]ids.TaskNode),
		ContinuousPolling: abool.New(),
		SleepUs:           0,
		killRequested:     killRequested,
	}
}

// PollQueues asks the worker to add entry to its work queue on its next
// loop iteration. Safe to call from any goroutine (the orchestrator).
func (w *Worker) PollQueues(entry WorkEntry) {
	w.pollReq <- entry
}

// RelinquishQueues asks the worker to drop entry from its work queue.
func (w *Worker) RelinquishQueues(entry WorkEntry) {
	w.relinqReq <- entry
}

// Loop runs the worker's main cooperative loop until ctx is canceled or
// kill_requested is set, per §4.4's four-step main loop.
func (w *Worker) Loop(ctx context.Context) {
	for {
		if ctx.Err() != nil || w.killRequested.IsSet() {
			return
		}
		w.drainControlQueues()

		ranSomething := false
		for _, entry := range w.workQueue {
			if w.pollGrouped(entry) {
				ranSomething = true
			}
		}

		if !ranSomething && !w.ContinuousPolling.IsSet() {
			if w.SleepUs > 0 {
				time.Sleep(w.SleepUs)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (w *Worker) drainControlQueues() {
	for drained := false; !drained; {
		select {
		case e := <-w.pollReq:
			w.workQueue = append(w.workQueue, e)
		default:
			drained = true
		}
	}
	for drained := false; !drained; {
		select {
		case e := <-w.relinqReq:
			w.workQueue = removeEntry(w.workQueue, e)
		default:
			drained = true
		}
	}
}

func removeEntry(entries []WorkEntry, target WorkEntry) []WorkEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.LaneIdx == target.LaneIdx && e.Queue == target.Queue {
			continue
		}
		out = append(out, e)
	}
	return out
}

// pollGrouped drains up to maxIterationsPerVisit tasks from one lane,
// dispatching each to its task state or the remote plugin. Returns true if
// at least one token was popped, used by Loop to decide whether to back
// off.
func (w *Worker) pollGrouped(entry WorkEntry) bool {
	ran := false
	for i := 0; i < maxIterationsPerVisit; i++ {
		slot, ok, err := entry.Queue.Pop(entry.LaneIdx)
		if err != nil {
			w.log.WithError(err).Error("pop failed on bound lane")
			return ran
		}
		if !ok {
			return ran
		}
		ran = true

		t, ok := slot.Payload.(*task.Task)
		if !ok {
			w.log.Error("lane token is not a *task.Task")
			continue
		}

		state, found := w.registry.GetTaskState(t.TaskStateID())
		if !found {
			t.SetComplete()
			continue
		}

		if !t.IsComplete() && !t.IsRunDisabled() && w.checkTaskGroup(t, state) {
			if !t.IsMarked() {
				t.SetMarked()
			}
			if t.Domain.IsRemote(w.nodeID) {
				if w.remote != nil {
					if err := w.remote.Disperse(t, state); err != nil {
						t.SetError()
						t.SetComplete()
					}
				} else {
					t.SetError()
					t.SetComplete()
				}
				t.DisableRun()
			} else {
				t.SetStarted()
				if err := state.Run(t.Method, t); err != nil {
					t.SetError()
					t.SetModuleComplete()
				}
			}
		}

		switch {
		case t.IsComplete():
			// Remote dispersal completes the original task directly
			// (§4.6 step 5), bypassing ModuleComplete; tear down group
			// bookkeeping exactly once, here.
			w.removeTaskGroup(t, state)
		case t.IsModuleComplete():
			w.removeTaskGroup(t, state)
			if !t.IsFireAndForget() {
				t.SetComplete()
			}
		default:
			if err := entry.Queue.EmplaceLane(entry.LaneIdx, t); err != nil {
				w.log.WithError(err).Error("failed to re-emplace in-flight task")
			}
		}
	}
	return ran
}

// checkTaskGroup implements §4.4's admission rule: a task that has already
// started was already admitted, so it skips straight through; otherwise
// its group key is computed and compared against the worker's group map,
// admitting unconditionally for Unordered and recursively for children of
// the task currently holding the group (same root task, §12 depth-counter
// semantics from original_source worker.h CheckTaskGroup).
func (w *Worker) checkTaskGroup(t *task.Task, state plug.TaskState) bool {
	if t.IsStarted() {
		return true
	}
	if t.IsUnordered() {
		return true
	}
	key := state.GetGroup(t.Method, t)
	if key == plug.Unordered {
		return true
	}

	existing, exists := w.groupMap[key]
	if !exists {
		w.groupMap[key] = ids.TaskNode{Root: t.Node.Root, Depth: 1}
		return true
	}
	if existing.Root == t.Node.Root {
		existing.Depth++
		w.groupMap[key] = existing
		return true
	}
	return false
}

// removeTaskGroup decrements the admission depth counter recorded by
// checkTaskGroup, erasing the entry once it reaches zero. Unordered tasks
// and construct/destruct methods skip this bookkeeping (§4.4 "Removal");
// an entry checkTaskGroup recorded for a construct/destruct task is left
// in place.
func (w *Worker) removeTaskGroup(t *task.Task, state plug.TaskState) {
	if t.IsUnordered() || t.Method < task.MethodFirstUser {
		return
	}
	key := state.GetGroup(t.Method, t)
	if key == plug.Unordered {
		return
	}
	entry, ok := w.groupMap[key]
	if !ok {
		return
	}
	entry.Depth--
	if entry.Depth <= 0 {
		delete(w.groupMap, key)
	} else {
		w.groupMap[key] = entry
	}
}
