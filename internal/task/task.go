// Package task defines the common task header every task payload carries,
// its flag bitfield, and the lifecycle helpers (Wait, completion) shared by
// every task state. It is grounded in
// original_source/include/labstor/task_registry/task.h, adapted from C++
// struct-with-SHM-ctors to a plain Go struct with atomic flags.
package task

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/atomic"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// Flag is a bit in a task's flag word (§3 of the data model).
type Flag uint32

const (
	LowLatency Flag = 1 << iota
	LongRunning
	FireAndForget
	Unordered
	Complete
	ModuleComplete
	Started
	DisableRun
	Marked
	DataOwner
	SrlSym
	SrlAsym
	// ExternalComplete is not in the original flag table but is referenced
	// throughout §4 and §8: an external actor sets it to force a task done
	// on its next worker visit, equivalent to ModuleComplete.
	ExternalComplete
	// Err records that a plugin or the remote dispatcher completed this
	// task abnormally (§7 TransportError/ProtocolError surfaced on the
	// task rather than raised as an exception).
	Err
)

// Reserved method codes. Methods below MethodFirstUser are construct/
// destruct and are exempt from task-group bookkeeping (§4.4 "Removal").
const (
	MethodConstruct uint32 = 0
	MethodDestruct  uint32 = 1
	MethodFirstUser uint32 = 2
)

// Task is the common header present in every task payload. Type-specific
// arguments and results travel in UserData rather than in a struct that
// embeds Task.
type Task struct {
	TaskState ids.TaskStateId
	Node      ids.TaskNode
	Domain    ids.DomainId
	Hash      uint32
	Method    uint32

	// UserData carries a task type's method-specific arguments/results. The
	// original source gets this by subclassing Task through an intrusive
	// shared-memory pointer; without that, a task state's own Run/SaveStart/
	// LoadStart hooks agree out-of-band on the concrete type stashed here and
	// type-assert it back (see internal/remote's round-trip test).
	UserData any

	flags atomic.Uint32
}

// New constructs a task header in the Created state (no flags set other
// than the ones the caller passes).
func New(state ids.TaskStateId, node ids.TaskNode, domain ids.DomainId, laneHash uint32, method uint32, flags ...Flag) *Task {
	t := &Task{
		TaskState: state,
		Node:      node,
		Domain:    domain,
		Hash:      laneHash,
		Method:    method,
	}
	for _, f := range flags {
		t.flags.Or(uint32(f))
	}
	return t
}

// NewChild constructs a task whose TaskNode descends from parent's,
// matching the rule "child tasks spawned while executing task T carry
// root = T.root, depth = T.depth + 1" (§3).
func NewChild(parent *Task, state ids.TaskStateId, domain ids.DomainId, laneHash uint32, method uint32, flags ...Flag) *Task {
	return New(state, parent.Node.Child(), domain, laneHash, method, flags...)
}

// TaskStateID satisfies queuemgr.Token: which plugin owns this task.
func (t *Task) TaskStateID() ids.TaskStateId { return t.TaskState }

// LaneHash satisfies queuemgr.Token: which lane this task hashes to.
func (t *Task) LaneHash() uint32 { return t.Hash }

// RawFlags returns the full flag word, for serialization (§6 header format
// includes flags so a deserialized task preserves FireAndForget and the
// serialization-shape bits across the wire).
func (t *Task) RawFlags() uint32 { return t.flags.Load() }

// SetRawFlags overwrites the full flag word, used when reconstructing a task
// from a deserialized header.
func (t *Task) SetRawFlags(raw uint32) { t.flags.Store(raw) }

func (t *Task) has(f Flag) bool { return t.flags.Load()&uint32(f) != 0 }
func (t *Task) set(f Flag)      { t.flags.Or(uint32(f)) }
func (t *Task) clear(f Flag)    { t.flags.And(^uint32(f)) }

// IsLowLatency reports the queue-continuous-polling hint.
func (t *Task) IsLowLatency() bool { return t.has(LowLatency) }

// IsLongRunning reports whether this task is re-entered on each tick
// instead of being freed on first return.
func (t *Task) IsLongRunning() bool { return t.has(LongRunning) }

// IsFireAndForget reports whether the worker should free this task's
// storage on completion rather than leaving it for a waiting client.
func (t *Task) IsFireAndForget() bool { return t.has(FireAndForget) }

// IsUnordered reports the flag opt-out of task-group serialization.
func (t *Task) IsUnordered() bool { return t.has(Unordered) }

// IsComplete reports the client-visible done flag (release semantics:
// everything the task wrote happens-before an observer sees this true,
// since the flag is only ever set after the task's work finishes).
func (t *Task) IsComplete() bool { return t.has(Complete) }

// SetComplete sets the client-visible done flag.
func (t *Task) SetComplete() { t.set(Complete) }

// IsModuleComplete reports whether the inner method signaled this phase
// complete. Per §4.4, ExternalComplete is treated equivalently on the
// worker's next visit.
func (t *Task) IsModuleComplete() bool {
	return t.has(ModuleComplete) || t.has(ExternalComplete)
}

// SetModuleComplete marks the current run phase as finished.
func (t *Task) SetModuleComplete() { t.set(ModuleComplete) }

// SetExternalComplete forces a task done on its next worker visit; used by
// external actors with no cooperative cancellation API (§5).
func (t *Task) SetExternalComplete() { t.set(ExternalComplete) }

// IsExternalComplete reports whether external completion was requested.
func (t *Task) IsExternalComplete() bool { return t.has(ExternalComplete) }

// IsStarted reports whether this task has entered run at least once.
func (t *Task) IsStarted() bool { return t.has(Started) }

// SetStarted marks the task as having entered run.
func (t *Task) SetStarted() { t.set(Started) }

// IsRunDisabled reports whether the task is temporarily parked (e.g.
// awaiting a remote reply).
func (t *Task) IsRunDisabled() bool { return t.has(DisableRun) }

// DisableRun parks the task; the worker will not invoke run again until
// some external actor clears the flag (e.g. the remote plugin on reply).
func (t *Task) DisableRun() { t.set(DisableRun) }

// EnableRun resumes a parked task.
func (t *Task) EnableRun() { t.clear(DisableRun) }

// IsMarked reports the worker's group-admission bookkeeping bit.
func (t *Task) IsMarked() bool { return t.has(Marked) }

// SetMarked sets the group-admission bookkeeping bit.
func (t *Task) SetMarked() { t.set(Marked) }

// IsDataOwner reports whether the task owns a heap buffer it must free on
// drop.
func (t *Task) IsDataOwner() bool { return t.has(DataOwner) }

// SrlShape identifies which archive shape (§6) a task type uses.
type SrlShape int

const (
	ShapeSym SrlShape = iota
	ShapeAsym
)

// Shape returns the serialization shape flagged on this task.
func (t *Task) Shape() SrlShape {
	if t.has(SrlAsym) {
		return ShapeAsym
	}
	return ShapeSym
}

// IsError reports whether a plugin or the remote dispatcher completed this
// task abnormally.
func (t *Task) IsError() bool { return t.has(Err) }

// SetError marks the task as completed with an error, per §7's "replica
// marked failed, original task completed with error flag".
func (t *Task) SetError() { t.set(Err) }

// Wait spins with a short back-off on Complete, cooperatively yielding
// between checks, per §4.2. It returns ctx.Err() if ctx is canceled first;
// a caller that wants the unbounded wait the core promises should pass
// context.Background().
func (t *Task) Wait(ctx context.Context) error {
	spins := 0
	for !t.IsComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		spins++
		if spins < 1000 {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
	return nil
}
