package registry

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

func TestSearchPathsPrefersTaskLibDir(t *testing.T) {
	t.Setenv("LABSTOR_TASK_PATH", "")
	t.Setenv("LD_LIBRARY_PATH", "")
	paths := SearchPaths("/opt/labstor/lib")
	require.Equal(t, []string{"/opt/labstor/lib"}, paths)
}

func TestSearchPathsCombinesEnv(t *testing.T) {
	t.Setenv("LABSTOR_TASK_PATH", "/a"+string(os.PathListSeparator)+"/b")
	t.Setenv("LD_LIBRARY_PATH", "/c")
	paths := SearchPaths("/opt/labstor/lib")
	require.Equal(t, []string{"/opt/labstor/lib", "/a", "/b", "/c"}, paths)
}

func TestFindLibChecksBothNamingConventions(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/plugins/libsmsvc.so", []byte("stub"), 0o644))
	r := New(ids.NodeId(1), fs)

	path, err := r.findLib([]string{"/plugins"}, "smsvc")
	require.NoError(t, err)
	require.Equal(t, "/plugins/libsmsvc.so", path)
}

func TestFindLibNotFoundIsNonFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(ids.NodeId(1), fs)

	_, err := r.findLib([]string{"/plugins"}, "missing")
	require.Error(t, err)
}
