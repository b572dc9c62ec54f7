package registry

import (
	"fmt"
	"os"
	goplugin "plugin"
	"strings"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/task"
	plug "github.com/lukemartinlogan/labstor/pkg/plugin"
)

// SearchPaths assembles the plugin search path in priority order: a
// runtime-supplied task-library directory first, then the process's own
// loader search path via LABSTOR_TASK_PATH and LD_LIBRARY_PATH, matching
// TaskRegistry::ServerInit in the original source.
func SearchPaths(taskLibDir string) []string {
	var paths []string
	if taskLibDir != "" {
		paths = append(paths, taskLibDir)
	}
	for _, envVar := range []string{"LABSTOR_TASK_PATH", "LD_LIBRARY_PATH"} {
		if v := os.Getenv(envVar); v != "" {
			paths = append(paths, strings.Split(v, string(os.PathListSeparator))...)
		}
	}
	return paths
}

// RegisterTaskLib locates a shared module named "{dir}/{name}.so" or
// "{dir}/lib{name}.so" across the search path, opens it, and resolves its
// two required symbols: CreateState and GetTaskLibName. An optional third
// symbol, Dependencies (func() []string), feeds GetLoadOrder.
//
// Failure to find or load the library is a non-fatal PluginError (§7): the
// caller's register_task_lib admin method returns a null id.
func (r *Registry) RegisterTaskLib(searchPaths []string, name string) error {
	if r.HasLib(name) {
		return nil
	}

	path, err := r.findLib(searchPaths, name)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	p, err := goplugin.Open(path)
	if err != nil {
		return fmt.Errorf("registry: opening library %q at %s: %w", name, path, err)
	}

	createSym, err := p.Lookup("CreateState")
	if err != nil {
		return fmt.Errorf("registry: library %q missing CreateState symbol: %w", name, err)
	}
	ctor, ok := createSym.(func(*task.Task, ids.TaskStateId, string) (plug.TaskState, error))
	if !ok {
		return fmt.Errorf("registry: library %q CreateState has the wrong signature", name)
	}

	namerSym, err := p.Lookup("GetTaskLibName")
	if err != nil {
		return fmt.Errorf("registry: library %q missing GetTaskLibName symbol: %w", name, err)
	}
	namer, ok := namerSym.(func() string)
	if !ok {
		return fmt.Errorf("registry: library %q GetTaskLibName has the wrong signature", name)
	}
	libName := namer()

	var deps []string
	if depSym, err := p.Lookup("Dependencies"); err == nil {
		if fn, ok := depSym.(func() []string); ok {
			deps = fn()
		}
	}

	return r.registerLib(libName, path, plug.Constructor(ctor), deps)
}

func (r *Registry) findLib(searchPaths []string, name string) (string, error) {
	candidates := []string{name + ".so", "lib" + name + ".so"}
	for _, dir := range searchPaths {
		for _, c := range candidates {
			full := dir + string(os.PathSeparator) + c
			if exists, err := afExists(r.fs, full); err == nil && exists {
				return full, nil
			}
		}
	}
	return "", fmt.Errorf("library %q not found on search path %v", name, searchPaths)
}

func afExists(fs interface {
	Stat(name string) (os.FileInfo, error)
}, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
