package rpcengine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// loopbackContext builds a single-host Context pointed at 127.0.0.1 so
// Engine tests never depend on DNS or external network access.
func loopbackContext(t *testing.T, port int) *Context {
	t.Helper()
	return &Context{
		Protocol: "tcp",
		Port:     port,
		MyNodeID: 1,
		Hosts:    []HostInfo{{NodeID: 1, Hostname: "localhost", IPAddr: "127.0.0.1"}},
	}
}

func TestEngineDispatchRoundTrip(t *testing.T) {
	ctx := loopbackContext(t, 17171)
	e := NewEngine(ctx)
	require.NoError(t, e.Serve(func(_ context.Context, req []byte) ([]byte, error) {
		reply := append([]byte("echo:"), req...)
		return reply, nil
	}))
	defer e.Stop()

	time.Sleep(20 * time.Millisecond)

	reqCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := e.Dispatch(reqCtx, ids.NodeId(1), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(reply))
}

func TestParseHostfileSkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hostfile"
	content := "# comment\n\nhost-a\nhost-b\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	names, err := ParseHostfile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"host-a", "host-b"}, names)
}
