package console

import (
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipe stands in for the hypervisor's serial pipe endpoint
func fakePipe(t *testing.T) (string, chan net.Conn) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix socket pipes are not available on windows")
	}

	path := filepath.Join(t.TempDir(), "pipe_test-vm")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- conn
	}()
	return path, conns
}

func TestProxyBridgesBothDirections(t *testing.T) {
	path, conns := fakePipe(t)

	p, err := New("test-vm", path, "127.0.0.1", 0)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	var pipe net.Conn
	select {
	case pipe = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("proxy never dialed the pipe")
	}

	client, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, pipe.SetDeadline(time.Now().Add(5*time.Second)))

	// client to guest
	_, err = client.Write([]byte("show version\r\n"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := pipe.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "show version\r\n", string(buf[:n]))

	// guest to client
	_, err = pipe.Write([]byte("IOS 12.4\r\n"))
	require.NoError(t, err)
	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "IOS 12.4\r\n", string(buf[:n]))
}

func TestProxyStopClosesClient(t *testing.T) {
	path, _ := fakePipe(t)

	p, err := New("test-vm", path, "127.0.0.1", 0)
	require.NoError(t, err)
	p.Start()

	client, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	// give the accept loop a moment to adopt the client
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err)
}

func TestProxyMissingPipe(t *testing.T) {
	_, err := New("test-vm", filepath.Join(t.TempDir(), "nonexistent"), "127.0.0.1", 0)
	assert.Error(t, err)
}
