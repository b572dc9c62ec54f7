// Package registry implements the task registry (§4.3): dynamic loading of
// task-library modules, the name<->id maps for task-state instances, and
// the monotonic id counter. Grounded in
// original_source/include/labstor/task_registry/task_registry.h (the
// dlopen/dlsym TaskLibInfo/TaskRegistry pair) and adapted from the
// teacher's internal/plugin/registry.go (dependency-ordered load via Kahn's
// algorithm, carried forward here as GetLoadOrder).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

// lib is a loaded task-library module: its constructor/namer symbols plus
// the optional dependency list used for load ordering.
type lib struct {
	name         string
	path         string
	constructor  plug.Constructor
	dependencies []string
}

// Registry is the process-local task registry for one node. Per §5's
// concurrency model it is mutated only by admin-state handlers executing
// on worker 0, so callers elsewhere only read; the mutex exists for test
// harnesses and the CLI path, which may call in from another goroutine.
type Registry struct {
	nodeID ids.NodeId
	fs     afero.Fs

	mu       sync.RWMutex
	libs     map[string]*lib
	nameToID map[string]ids.TaskStateId
	states   map[uint64]plug.TaskState
	unique   uint64
}

// New constructs a registry for nodeID. fs backs the plugin search-path
// scan (internal/registry/loader.go) behind an afero.Fs so tests can use
// afero.NewMemMapFs instead of touching the real filesystem.
func New(nodeID ids.NodeId, fs afero.Fs) *Registry {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Registry{
		nodeID:   nodeID,
		fs:       fs,
		libs:     make(map[string]*lib),
		nameToID: make(map[string]ids.TaskStateId),
		states:   make(map[uint64]plug.TaskState),
		unique:   1, // 0 is reserved for the admin state
	}
}

// AdminStateID returns the reserved admin task-state id for this node.
func (r *Registry) AdminStateID() ids.TaskStateId {
	return ids.TaskStateId{NodeID: r.nodeID, Unique: 0}
}

// ReserveStateID allocates a fresh monotonic id for a statically-constructed
// built-in task state (proc_queue, remote_queue) the way BindState expects
// it: these states are constructed directly by the daemon's bootstrap code
// rather than through a loaded library's constructor, so they still need an
// id from the registry's own counter to avoid colliding with a later
// CreateTaskState call.
func (r *Registry) ReserveStateID() ids.TaskStateId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID()
}

// BindState publishes an already-constructed TaskState under id and name,
// for the handful of built-in task states (admin, proc_queue, remote_queue)
// the daemon wires up directly at startup instead of loading from a
// library. Unlike CreateTaskState, no constructor is invoked here.
func (r *Registry) BindState(id ids.TaskStateId, name string, state plug.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nameToID[name] = id
	r.states[id.Unique] = state
}

// nextID allocates a fresh monotonic id. Caller must hold r.mu.
func (r *Registry) nextID() ids.TaskStateId {
	id := ids.TaskStateId{NodeID: r.nodeID, Unique: r.unique}
	r.unique++
	return id
}

// RegisterLib records an already-resolved constructor under name, bypassing
// the .so discovery/open path in loader.go. Exported for test harnesses and
// for statically linked task libraries that register themselves via an
// init() function instead of a dynamically loaded module.
func (r *Registry) RegisterLib(name, path string, ctor plug.Constructor, deps []string) error {
	return r.registerLib(name, path, ctor, deps)
}

// registerLib records a loaded library's constructor under name. Used by
// loader.go once a module's symbols have been resolved.
func (r *Registry) registerLib(name, path string, ctor plug.Constructor, deps []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.libs[name]; exists {
		return fmt.Errorf("registry: library %q already registered", name)
	}
	r.libs[name] = &lib{name: name, path: path, constructor: ctor, dependencies: deps}
	return nil
}

// DestroyTaskLib removes a library from the registry. Go's plugin package
// has no dlclose equivalent, so this only prevents future CreateTaskState
// calls from resolving the name; already-loaded machine code stays mapped
// for the process lifetime (documented in DESIGN.md).
func (r *Registry) DestroyTaskLib(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.libs, name)
}

// HasLib reports whether a library name is currently registered.
func (r *Registry) HasLib(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.libs[name]
	return ok
}

// CreateTaskState instantiates stateName from libName: checks the name is
// not already bound (returning the existing id if it is, per the
// AlreadyExists->idempotent policy of §7), looks up the library, calls its
// constructor, and publishes the new id to the name map. The library must
// already be registered: CreateTaskState does not load it, and returns an
// error when libName is unknown.
func (r *Registry) CreateTaskState(libName, stateName string, id *ids.TaskStateId, constructTask *task.Task) (ids.TaskStateId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.nameToID[stateName]; ok {
		return existing, nil
	}

	l, ok := r.libs[libName]
	if !ok {
		return ids.UniqueId{}, fmt.Errorf("registry: library %q not found", libName)
	}

	var assigned ids.TaskStateId
	if id != nil {
		assigned = *id
	} else {
		assigned = r.nextID()
	}

	state, err := l.constructor(constructTask, assigned, stateName)
	if err != nil {
		return ids.UniqueId{}, fmt.Errorf("registry: constructing state %q from lib %q: %w", stateName, libName, err)
	}

	r.nameToID[stateName] = assigned
	r.states[assigned.Unique] = state
	return assigned, nil
}

// GetOrCreateTaskStateId is the idempotent admin entry point of §6: two
// concurrent calls with the same name must produce the same id (§8
// invariant 3). Holding r.mu across the whole check-then-create makes that
// atomic.
func (r *Registry) GetOrCreateTaskStateId(libName, stateName string, constructTask *task.Task) (ids.TaskStateId, error) {
	return r.CreateTaskState(libName, stateName, nil, constructTask)
}

// GetTaskStateId looks up a bound state name. ok is false (never an error)
// when the name is unbound.
func (r *Registry) GetTaskStateId(name string) (ids.TaskStateId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

// GetTaskState resolves an id to its live TaskState instance.
func (r *Registry) GetTaskState(id ids.TaskStateId) (plug.TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id.Unique]
	return s, ok
}

// DestroyTaskState removes an instance: drops it from the name map and the
// id map, and leaves its library loaded. Destroying an unknown id is a
// silent no-op, matching the NotFound-is-never-fatal policy.
func (r *Registry) DestroyTaskState(id ids.TaskStateId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id.Unique]
	if !ok {
		return
	}
	delete(r.states, id.Unique)
	for name, boundID := range r.nameToID {
		if boundID == id {
			delete(r.nameToID, name)
			break
		}
	}
	if closer, ok := state.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// GetLoadOrder topologically sorts registered libraries by their
// Dependencies list (Kahn's algorithm). Libraries with no dependencies
// load first; a cycle is reported as an error rather than guessed at.
func (r *Registry) GetLoadOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	for name, l := range r.libs {
		inDegree[name] = len(l.dependencies)
		for _, dep := range l.dependencies {
			if _, ok := r.libs[dep]; !ok {
				return nil, fmt.Errorf("registry: library %q depends on unknown library %q", name, dep)
			}
			graph[dep] = append(graph[dep], name)
		}
	}

	queue := make([]string, 0)
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(r.libs))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		result = append(result, cur)

		dependents := append([]string{}, graph[cur]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(r.libs) {
		return nil, fmt.Errorf("registry: circular dependency among task libraries")
	}
	return result, nil
}

// ListStates returns every bound state name and its id.
func (r *Registry) ListStates() map[string]ids.TaskStateId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ids.TaskStateId, len(r.nameToID))
	for k, v := range r.nameToID {
		out[k] = v
	}
	return out
}
