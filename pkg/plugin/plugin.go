// Package plugin declares the contract a task-library module exports and
// the virtual dispatch table ("TaskState") every loaded plugin instance
// implements. It is the ABI boundary between the registry (which loads
// modules with Go's plugin package) and the worker (which only ever calls
// through TaskState).
package plugin

import (
	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/serialize"
	"github.com/lukemartinlogan/labstor/internal/task"
)

// Metadata describes a task-library module: its name, the optional
// dependency list the registry's GetLoadOrder topologically sorts on, and
// free-form version/description fields.
type Metadata struct {
	Name         string   `mapstructure:"plugin_name"`
	Version      string   `mapstructure:"plugin_version"`
	Description  string   `mapstructure:"plugin_description"`
	Dependencies []string `mapstructure:"plugin_dependencies"`
}

// GroupKey is the key TaskState.GetGroup returns to the worker for task-
// group admission. Unordered signals "do not serialize this task".
type GroupKey string

// Unordered is the sentinel GetGroup returns to opt a task out of group
// serialization entirely, equivalent to the task carrying task.Unordered.
const Unordered GroupKey = ""

// TaskState is the dispatch table every loaded task-state plugin instance
// implements (§3, §4.3). Method numbers are a plain uint32 so plugins
// compiled separately agree on ABI without sharing Go types across the
// plugin.Open boundary beyond this interface.
type TaskState interface {
	// ID returns the id the registry assigned this instance.
	ID() ids.TaskStateId
	// Name returns the bound service name (e.g. "smsvc").
	Name() string

	// Run executes one quantum of method on t. Implementations must either
	// call t.SetModuleComplete() when the phase is finished or return
	// without doing so to be re-invoked on the lane's next visit.
	Run(method uint32, t *task.Task) error

	// GetGroup returns the task-group key for t, or Unordered to admit it
	// unconditionally (§4.4 check_task_group).
	GetGroup(method uint32, t *task.Task) GroupKey

	// SaveStart/LoadStart/SaveEnd/LoadEnd serialize a task at the start or
	// end of remote dispatch (§4.6, §6). A SYM-shaped task type uses the
	// same archive format for both ends; ASYM-shaped types differ.
	SaveStart(method uint32, ar *serialize.OutputArchive, t *task.Task) ([]serialize.DataTransfer, error)
	LoadStart(method uint32, ar *serialize.InputArchive, t *task.Task) error
	SaveEnd(method uint32, ar *serialize.OutputArchive, t *task.Task) error
	LoadEnd(replicaIndex int, method uint32, ar *serialize.InputArchive, t *task.Task) error

	// ReplicateStart reserves storage for n replica results before
	// dispersal begins; ReplicateEnd is called once every replica's
	// LoadEnd has run.
	ReplicateStart(n int, t *task.Task) error
	ReplicateEnd(t *task.Task) error
}

// Constructor is the symbol a task-library module exports under the name
// "CreateState": given the construction task, it returns a fresh TaskState
// instance bound to the id and name the registry has already reserved.
type Constructor func(constructTask *task.Task, id ids.TaskStateId, name string) (TaskState, error)

// LibNamer is the symbol a task-library module exports under the name
// "GetTaskLibName": the canonical library name, independent of the file it
// was loaded from.
type LibNamer func() string
