// Package orchestrator implements the work orchestrator (§4.5): the fixed
// pool of worker goroutines, the queue-scheduling policy that binds queue
// lanes to workers, and the process-scheduling policy that pins workers to
// CPUs. Grounded in
// original_source/include/labstor/work_orchestrator/work_orchestrator.h
// (WorkOrchestrator::ServerInit/SetAffinity/Finalize) and adapted to the
// cooperative-goroutine worker model of internal/worker.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/serialx/hashring"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/worker"
)

// QueuePolicy selects how a queue's lanes are bound to workers.
type QueuePolicy int

const (
	// RoundRobin assigns lane 0 of every queue to worker 0 and cycles every
	// later lane through workers 1..N-1 (see roundRobinIndex), the default
	// described in §4.5.
	RoundRobin QueuePolicy = iota
	// HashRing assigns a lane to a worker by consistent-hashing the
	// (queue id, lane index) pair, so that repeated ScheduleQueue calls for
	// the same queue keep landing on the same worker even as the pool size
	// changes elsewhere in the cluster.
	HashRing
)

// ProcessPolicy selects how workers are pinned to CPUs.
type ProcessPolicy int

const (
	// NoAffinity leaves worker goroutines unpinned (default, and the only
	// option on platforms without CPU-affinity syscalls).
	NoAffinity ProcessPolicy = iota
	// RoundRobinCPU pins worker i to CPU (i mod runtime.NumCPU()).
	RoundRobinCPU
)

// Orchestrator owns the fixed worker pool and the two scheduling policies
// that govern how work reaches it, matching WorkOrchestrator's
// responsibilities in the original source (minus SHM allocation, which this
// port has no analogue for).
type Orchestrator struct {
	nodeID ids.NodeId
	log    *logrus.Entry

	workers       []*worker.Worker
	killRequested *abool.AtomicBool
	wg            sync.WaitGroup

	mu          sync.Mutex
	queuePolicy QueuePolicy
	procPolicy  ProcessPolicy
	ring        *hashring.HashRing
	rrCounter   uint64
}

// New constructs an orchestrator with numWorkers workers, none yet started.
// remote is shared by every worker as its RemoteDispatcher (§4.6); it may be
// nil until internal/remote finishes wiring up, in which case a worker that
// encounters a remote-domain task simply marks it errored rather than
// panicking (see worker.pollGrouped).
func New(nodeID ids.NodeId, numWorkers int, reg *registry.Registry, remote worker.RemoteDispatcher, log *logrus.Entry) *Orchestrator {
	o := &Orchestrator{
		nodeID:        nodeID,
		log:           log.WithField("component", "orchestrator"),
		killRequested: abool.New(),
	}
	names := make([]string, numWorkers)
	for i := 0; i < numWorkers; i++ {
		o.workers = append(o.workers, worker.New(i, nodeID, reg, remote, o.killRequested, log))
		names[i] = fmt.Sprintf("%d", i)
	}
	o.ring = hashring.New(names)
	return o
}

// NumWorkers returns the fixed pool size.
func (o *Orchestrator) NumWorkers() int { return len(o.workers) }

// Worker returns the worker at id, for direct inspection in tests and the
// admin status surface.
func (o *Orchestrator) Worker(id int) *worker.Worker { return o.workers[id] }

// SetQueueSchedulingPolicy changes how future ScheduleQueue calls assign
// lanes to workers. Matches the admin surface's
// set_work_orchestrator_queue_policy operation (§12).
func (o *Orchestrator) SetQueueSchedulingPolicy(p QueuePolicy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queuePolicy = p
}

// SetProcessSchedulingPolicy changes how Start pins worker goroutines to
// CPUs on its next call. Matches set_work_orchestrator_process_policy (§12).
func (o *Orchestrator) SetProcessSchedulingPolicy(p ProcessPolicy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.procPolicy = p
}

// Start launches every worker's Loop in its own goroutine and applies the
// current process-scheduling policy.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	policy := o.procPolicy
	o.mu.Unlock()

	for i, w := range o.workers {
		o.wg.Add(1)
		go func(i int, w *worker.Worker) {
			defer o.wg.Done()
			if policy == RoundRobinCPU {
				if err := pinToCPU(i); err != nil {
					o.log.WithError(err).WithField("worker_id", i).Warn("cpu affinity unavailable")
				}
			}
			w.Loop(ctx)
		}(i, w)
	}
}

// Finalize requests every worker stop and waits for their loops to return,
// matching WorkOrchestrator::Finalize.
func (o *Orchestrator) Finalize() {
	o.killRequested.Set()
	o.wg.Wait()
}

// IsAlive reports whether shutdown has not yet been requested.
func (o *Orchestrator) IsAlive() bool { return !o.killRequested.IsSet() }

// ScheduleQueue binds every currently-unscheduled lane of q to a worker
// under the active queue-scheduling policy, and advances q's scheduled-lane
// watermark so a later call only binds newly grown lanes (§4.1 Resize
// interaction).
func (o *Orchestrator) ScheduleQueue(q *queuemgr.Queue) {
	o.mu.Lock()
	policy := o.queuePolicy
	o.mu.Unlock()

	start := q.NumScheduled()
	n := q.NumLanes()
	for laneIdx := start; laneIdx < n; laneIdx++ {
		w := o.pickWorker(q, laneIdx, policy)
		w.PollQueues(worker.WorkEntry{LaneIdx: laneIdx, Queue: q})
	}
	q.SetNumScheduled(n)
}

// UnscheduleQueue tells every worker to drop every lane of q from its work
// queue, used when a task state (and its queue) is destroyed.
func (o *Orchestrator) UnscheduleQueue(q *queuemgr.Queue) {
	n := q.NumLanes()
	for laneIdx := 0; laneIdx < n; laneIdx++ {
		entry := worker.WorkEntry{LaneIdx: laneIdx, Queue: q}
		for _, w := range o.workers {
			w.RelinquishQueues(entry)
		}
	}
}

// pickWorker resolves the worker a (queue, lane) pair binds to under the
// active policy.
func (o *Orchestrator) pickWorker(q *queuemgr.Queue, laneIdx int, policy QueuePolicy) *worker.Worker {
	switch policy {
	case HashRing:
		key := fmt.Sprintf("%s:%d", q.ID(), laneIdx)
		if name, ok := o.ring.GetNode(key); ok {
			for i, w := range o.workers {
				if fmt.Sprintf("%d", i) == name {
					return w
				}
			}
		}
		fallthrough
	default: // RoundRobin
		return o.workers[roundRobinIndex(laneIdx, len(o.workers))]
	}
}

// roundRobinIndex implements the round-robin lane->worker formula of
// original_source/tasks_required/worch_queue_round_robin/src/worch_queue_round_robin.cc:
// lane 0 always goes to worker 0, and every later lane cycles through
// workers 1..W-1 only, so worker 0 never receives a second lane.
func roundRobinIndex(laneIdx, numWorkers int) int {
	if laneIdx == 0 || numWorkers == 1 {
		return 0
	}
	return ((laneIdx-1)%(numWorkers-1) + 1)
}
