// Package queuemgr implements the global directory of MultiQueues shared by
// the runtime and every client attached to it. It is grounded in
// original_source/include/labstor/queue_manager/queue_manager.h: one
// QueueManager per node, indexed by a queue id's Unique field, with slot
// (node_id, 0) reserved for the admin queue before anything else registers.
package queuemgr

import (
	"fmt"
	"sync"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/queue"
)

// Token is the payload every MultiQueue in this runtime carries; *task.Task
// implements it. The Queue alias below instantiates MultiQueue over this
// interface, so this package does not import the task package.
type Token interface {
	TaskStateID() ids.TaskStateId
	LaneHash() uint32
}

// Queue is the concrete MultiQueue type used throughout the runtime.
type Queue = queue.MultiQueue[Token]

// NewQueue constructs a standalone Queue outside of a Manager's directory,
// for task-state implementations (each of which owns exactly one queue,
// §3) and for test harnesses that need a queue without a full runtime.
func NewQueue(id ids.QueueId, p Params) (*Queue, error) {
	return queue.NewMultiQueue[Token](id, p.MaxLanes, p.NumLanes, p.Depth)
}

// AdminQueueParams are the fixed dimensions of the reserved admin queue.
var AdminQueueParams = Params{MaxLanes: 8, NumLanes: 1, Depth: 1024}

// Params bundles the construction dimensions for a MultiQueue, mirroring
// the admin task surface's create_task_state `queue_params` argument.
type Params struct {
	MaxLanes int
	NumLanes int
	Depth    int
}

// Manager is the process-local directory of every live MultiQueue on this
// node. It is mutated only by admin-state handlers executing on worker 0
// (see internal/admin), so callers elsewhere in the runtime only read.
type Manager struct {
	nodeID ids.NodeId

	mu      sync.RWMutex
	queues  map[uint64]*Queue // keyed by QueueId.Unique
	ticket  uint64            // next free Unique to hand out
	adminID ids.QueueId
}

// NewManager constructs the manager for a node and reserves the admin queue
// at (node_id, 0), matching QueueManager::Init in the original source.
func NewManager(nodeID ids.NodeId) (*Manager, error) {
	m := &Manager{
		nodeID: nodeID,
		queues: make(map[uint64]*Queue),
	}
	m.adminID = ids.QueueId{NodeID: nodeID, Unique: 0}
	admin, err := queue.NewMultiQueue[Token](m.adminID, AdminQueueParams.MaxLanes, AdminQueueParams.NumLanes, AdminQueueParams.Depth)
	if err != nil {
		return nil, fmt.Errorf("queuemgr: reserving admin queue: %w", err)
	}
	m.queues[0] = admin
	m.ticket = 1
	return m, nil
}

// AdminQueueID returns the reserved admin queue id for this node.
func (m *Manager) AdminQueueID() ids.QueueId { return m.adminID }

// AdminQueue returns the reserved admin queue.
func (m *Manager) AdminQueue() *Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[0]
}

// CreateQueue allocates a fresh Unique (unless id is given) and registers a
// new MultiQueue of the given dimensions.
func (m *Manager) CreateQueue(id *ids.QueueId, p Params) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var qid ids.QueueId
	if id != nil {
		qid = *id
	} else {
		qid = ids.QueueId{NodeID: m.nodeID, Unique: m.ticket}
		m.ticket++
	}
	if _, exists := m.queues[qid.Unique]; exists {
		return nil, fmt.Errorf("queuemgr: queue %s already registered", qid)
	}
	q, err := queue.NewMultiQueue[Token](qid, p.MaxLanes, p.NumLanes, p.Depth)
	if err != nil {
		return nil, err
	}
	m.queues[qid.Unique] = q
	return q, nil
}

// GetQueue looks up a queue by id. ok is false (never an error) when the
// queue is not registered, matching the NotFound-is-never-fatal policy.
func (m *Manager) GetQueue(id ids.QueueId) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[id.Unique]
	return q, ok
}

// DestroyQueue removes a queue from the directory. Destroying an unknown id
// is a silent no-op.
func (m *Manager) DestroyQueue(id ids.QueueId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, id.Unique)
}

// ListQueues returns every currently registered queue id, for diagnostics
// only.
func (m *Manager) ListQueues() []ids.QueueId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ids.QueueId, 0, len(m.queues))
	for unique := range m.queues {
		out = append(out, ids.QueueId{NodeID: m.nodeID, Unique: unique})
	}
	return out
}
