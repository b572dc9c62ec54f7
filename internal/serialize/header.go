package serialize

import (
	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/task"
)

// PutHeader writes the six common task-header fields in the fixed order
// the original source's task_serialize uses: task_state, task_node,
// domain_id, lane_hash, method, flags. remote.Queue.Disperse calls this
// once, before a task state's SaveStart hook, per §6 "the common task
// header is always serialized first"; save hooks write only their own
// fields.
func (a *OutputArchive) PutHeader(t *task.Task) {
	a.putUniqueID(t.TaskState)
	a.putTaskNode(t.Node)
	a.putDomainID(t.Domain)
	a.PutUint32(t.Hash)
	a.PutUint32(t.Method)
	a.PutUint32(t.RawFlags())
}

func (a *OutputArchive) putUniqueID(id ids.UniqueId) {
	a.PutUint32(uint32(id.NodeID))
	a.PutUint64(id.Unique)
}

func (a *OutputArchive) putTaskNode(n ids.TaskNode) {
	a.putUniqueID(n.Root)
	a.PutUint32(n.Depth)
}

func (a *OutputArchive) putDomainID(d ids.DomainId) {
	a.PutUint32(uint32(d.Kind))
	a.PutUint32(uint32(d.Node))
}

// Header mirrors the header fields read back by GetHeader.
type Header struct {
	TaskState ids.TaskStateId
	Node      ids.TaskNode
	Domain    ids.DomainId
	Hash      uint32
	Method    uint32
	Flags     uint32
}

// NewTask reconstructs a *task.Task from a deserialized header, restoring
// its flag word so FireAndForget/serialization-shape survive the wire.
func (h Header) NewTask() *task.Task {
	t := task.New(h.TaskState, h.Node, h.Domain, h.Hash, h.Method)
	t.SetRawFlags(h.Flags)
	return t
}

// GetHeader reads the header fields written by PutHeader, in the same
// fixed order.
func (a *InputArchive) GetHeader() (Header, error) {
	var h Header
	var err error
	if h.TaskState, err = a.getUniqueID(); err != nil {
		return h, err
	}
	if h.Node, err = a.getTaskNode(); err != nil {
		return h, err
	}
	if h.Domain, err = a.getDomainID(); err != nil {
		return h, err
	}
	if h.Hash, err = a.GetUint32(); err != nil {
		return h, err
	}
	if h.Method, err = a.GetUint32(); err != nil {
		return h, err
	}
	if h.Flags, err = a.GetUint32(); err != nil {
		return h, err
	}
	return h, nil
}

func (a *InputArchive) getUniqueID() (ids.UniqueId, error) {
	node, err := a.GetUint32()
	if err != nil {
		return ids.UniqueId{}, err
	}
	unique, err := a.GetUint64()
	if err != nil {
		return ids.UniqueId{}, err
	}
	return ids.UniqueId{NodeID: ids.NodeId(node), Unique: unique}, nil
}

func (a *InputArchive) getTaskNode() (ids.TaskNode, error) {
	root, err := a.getUniqueID()
	if err != nil {
		return ids.TaskNode{}, err
	}
	depth, err := a.GetUint32()
	if err != nil {
		return ids.TaskNode{}, err
	}
	return ids.TaskNode{Root: root, Depth: depth}, nil
}

func (a *InputArchive) getDomainID() (ids.DomainId, error) {
	kind, err := a.GetUint32()
	if err != nil {
		return ids.DomainId{}, err
	}
	node, err := a.GetUint32()
	if err != nil {
		return ids.DomainId{}, err
	}
	return ids.DomainId{Kind: ids.DomainKind(kind), Node: ids.NodeId(node)}, nil
}
