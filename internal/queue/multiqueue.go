package queue

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// MultiQueue flag bits, stored in the queue-wide 32-bit flag word.
const (
	FlagResizePlugged uint32 = 1 << iota
	FlagUpdatePlugged
)

// spinBackoff is how long Emplace sleeps between checks of the
// plugged-for-resize flag. Spinning (not blocking) matches the cooperative,
// lock-light discipline the rest of the runtime uses.
const spinBackoff = 50 * time.Microsecond

// MultiQueue holds a fixed-max-lane collection of Lane rings, all of the
// same per-lane depth, addressed by the low bits of a caller-supplied hash.
// Every task state owns exactly one MultiQueue whose id equals its state id.
type MultiQueue[T any] struct {
	id    ids.QueueId
	flags atomic.Uint32

	maxLanes     int
	depth        int
	numLanes     atomic.Int64
	numScheduled atomic.Int64

	mu    sync.RWMutex // guards lanes during Resize; Emplace/Pop/Peek take RLock
	lanes []*Lane[T]
}

// NewMultiQueue constructs a MultiQueue with maxLanes reserved slots,
// numLanes initially live, each lane of fixed capacity depth.
func NewMultiQueue[T any](id ids.QueueId, maxLanes, numLanes, depth int) (*MultiQueue[T], error) {
	if numLanes > maxLanes {
		return nil, fmt.Errorf("queue: num_lanes %d exceeds max_lanes %d", numLanes, maxLanes)
	}
	q := &MultiQueue[T]{
		id:       id,
		maxLanes: maxLanes,
		depth:    depth,
		lanes:    make([]*Lane[T], numLanes, maxLanes),
	}
	for i := range q.lanes {
		q.lanes[i] = NewLane[T](depth)
	}
	q.numLanes.Store(int64(numLanes))
	q.numScheduled.Store(0)
	return q, nil
}

// ID returns the queue's identity.
func (q *MultiQueue[T]) ID() ids.QueueId { return q.id }

// MaxLanes returns the fixed reservation ceiling.
func (q *MultiQueue[T]) MaxLanes() int { return q.maxLanes }

// Depth returns the fixed per-lane capacity.
func (q *MultiQueue[T]) Depth() int { return q.depth }

// NumLanes returns the number of currently live lanes.
func (q *MultiQueue[T]) NumLanes() int {
	return int(q.numLanes.Load())
}

// NumScheduled returns the watermark of lanes already handed to the
// queue-scheduling policy. The policy advances this as it binds new lanes
// to workers; it never decreases except by explicit policy action.
func (q *MultiQueue[T]) NumScheduled() int {
	return int(q.numScheduled.Load())
}

// SetNumScheduled advances the scheduled-lane watermark.
func (q *MultiQueue[T]) SetNumScheduled(n int) {
	q.numScheduled.Store(int64(n))
}

// IsEmplacePlugged reports whether new emplaces are currently blocked.
func (q *MultiQueue[T]) IsEmplacePlugged() bool {
	return q.flags.Load()&FlagResizePlugged != 0
}

// IsPopPlugged reports whether pops are currently blocked: either a resize
// or an update-task plug blocks the consumer side.
func (q *MultiQueue[T]) IsPopPlugged() bool {
	f := q.flags.Load()
	return f&(FlagResizePlugged|FlagUpdatePlugged) != 0
}

// PlugForResize blocks new Emplace calls so Resize can safely change the
// live lane count. Existing Pop/Peek calls continue to drain normally.
func (q *MultiQueue[T]) PlugForResize() {
	q.flags.Or(FlagResizePlugged)
}

// UnplugForResize releases the emplace block installed by PlugForResize.
func (q *MultiQueue[T]) UnplugForResize() {
	q.flags.And(^FlagResizePlugged)
}

// PlugForUpdateTask blocks pops only, used while a scheduling policy is
// editing which worker owns which lane.
func (q *MultiQueue[T]) PlugForUpdateTask() {
	q.flags.Or(FlagUpdatePlugged)
}

// UnplugForUpdateTask releases the pop block installed by PlugForUpdateTask.
func (q *MultiQueue[T]) UnplugForUpdateTask() {
	q.flags.And(^FlagUpdatePlugged)
}

// lane returns the lane a hash resolves to, under the read lock so it is
// stable across a concurrent Resize.
func (q *MultiQueue[T]) lane(laneHash uint32) (*Lane[T], int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := len(q.lanes)
	idx := int(laneHash) % n
	return q.lanes[idx], idx
}

// Emplace pushes a token onto the lane `laneHash mod num_lanes`. If the
// queue is plugged for resize the caller spins until unplugged, per §4.1.
func (q *MultiQueue[T]) Emplace(laneHash uint32, payload T) error {
	for q.IsEmplacePlugged() {
		time.Sleep(spinBackoff)
	}
	l, _ := q.lane(laneHash)
	return l.Push(payload)
}

// EmplaceLane pushes directly onto a specific lane index, used by the
// worker to re-enqueue a task at the tail of the lane it is already bound
// to without re-hashing.
func (q *MultiQueue[T]) EmplaceLane(laneIdx int, payload T) error {
	l, err := q.GetLane(laneIdx)
	if err != nil {
		return err
	}
	return l.Push(payload)
}

// Pop removes the head token of the given lane. The caller must be the
// single worker bound to that lane.
func (q *MultiQueue[T]) Pop(laneIdx int) (LaneData[T], bool, error) {
	l, err := q.GetLane(laneIdx)
	if err != nil {
		var zero LaneData[T]
		return zero, false, err
	}
	v, ok := l.Pop()
	return v, ok, nil
}

// Peek looks ahead in a lane without consuming.
func (q *MultiQueue[T]) Peek(laneIdx, offset int) (LaneData[T], bool, error) {
	l, err := q.GetLane(laneIdx)
	if err != nil {
		var zero LaneData[T]
		return zero, false, err
	}
	v, ok := l.Peek(offset)
	return v, ok, nil
}

// GetLane returns the lane at idx, under the read lock.
func (q *MultiQueue[T]) GetLane(idx int) (*Lane[T], error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if idx < 0 || idx >= len(q.lanes) {
		return nil, fmt.Errorf("queue: lane index %d out of range [0,%d)", idx, len(q.lanes))
	}
	return q.lanes[idx], nil
}

// Resize changes the live lane count. Valid only while plugged for resize.
// Growing default-constructs new lanes. Shrinking erases trailing lanes,
// which must already be empty — per the open-question decision recorded in
// DESIGN.md, shrink is unsupported while any task is in flight, so a
// non-empty trailing lane is a hard error rather than a silent drop.
func (q *MultiQueue[T]) Resize(newNumLanes int) error {
	if !q.IsEmplacePlugged() {
		return fmt.Errorf("queue: resize requires plug_for_resize first")
	}
	if newNumLanes > q.maxLanes {
		return fmt.Errorf("queue: resize to %d exceeds max_lanes %d", newNumLanes, q.maxLanes)
	}
	if newNumLanes < 0 {
		return fmt.Errorf("queue: resize to negative lane count")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cur := len(q.lanes)
	switch {
	case newNumLanes > cur:
		for i := cur; i < newNumLanes; i++ {
			q.lanes = append(q.lanes, NewLane[T](q.depth))
		}
	case newNumLanes < cur:
		for i := newNumLanes; i < cur; i++ {
			if !q.lanes[i].IsEmpty() {
				return fmt.Errorf("queue: cannot shrink, lane %d is not empty", i)
			}
		}
		q.lanes = q.lanes[:newNumLanes]
	}
	q.numLanes.Store(int64(newNumLanes))
	return nil
}
