package server

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GNS3/vboxwrapper/pkg/controller"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/registry"
	"github.com/GNS3/vboxwrapper/pkg/types"
	"github.com/GNS3/vboxwrapper/pkg/vbox"
)

// startTestServer runs a server on an ephemeral port against a fake backend
func startTestServer(t *testing.T, fake *vbox.Fake) *Server {
	t.Helper()

	var backend vbox.Backend
	if fake != nil {
		backend = fake
	}

	policies := controller.FastPolicies()
	reg := registry.New(t.TempDir(), controller.Config{
		Backend:  backend,
		Policies: &policies,
		PipeDir:  t.TempDir(),
	})
	srv := New(Config{
		Addr:            "127.0.0.1:0",
		Registry:        reg,
		Backend:         backend,
		RequiredVersion: "4.1",
		Version:         "0.9.2",
	})

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

// testClient drives the line protocol over a real TCP connection
type testClient struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	require.NoError(t, nc.SetDeadline(time.Now().Add(30*time.Second)))
	return &testClient{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.nc, "%s\r\n", line)
	require.NoError(c.t, err)
}

// readReply reads lines until the final separator and returns the final
// code, the final message and any informational lines that preceded it
func (c *testClient) readReply() (int, string, []string) {
	c.t.Helper()
	var info []string
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err)
		line = strings.TrimRight(line, "\r\n")
		require.GreaterOrEqual(c.t, len(line), 4, "short reply line %q", line)

		code, err := strconv.Atoi(strings.TrimSpace(line[:3]))
		require.NoError(c.t, err)
		msg := line[4:]
		if line[3] == '-' {
			return code, msg, info
		}
		info = append(info, msg)
	}
}

// roundTrip sends one request and returns the final code and message
func (c *testClient) roundTrip(line string) (int, string) {
	c.send(line)
	code, msg, _ := c.readReply()
	return code, msg
}

func TestServerReportsHealthyOnceBound(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())

	health := metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["server"])

	srv.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for metrics.GetHealth().Components["server"] == "healthy" {
		if time.Now().After(deadline) {
			t.Fatal("server still reported healthy after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Contains(t, metrics.GetHealth().Components["server"], "unhealthy")
}

func TestWrapperVersion(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	code, msg := c.roundTrip("vboxwrapper version")
	assert.Equal(t, 100, code)
	assert.Equal(t, "0.9.2", msg)
}

func TestDispatchErrors(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	tests := []struct {
		name    string
		request string
		code    int
		msg     string
	}{
		{
			name:    "missing command",
			request: "vboxwrapper",
			code:    200,
			msg:     "At least a module and a command must be specified",
		},
		{
			name:    "unterminated quote",
			request: `vbox create vbox "R1`,
			code:    200,
			msg:     "At least a module and a command must be specified",
		},
		{
			name:    "unknown module",
			request: "hypervisor version",
			code:    201,
			msg:     "Unknown module 'hypervisor'",
		},
		{
			name:    "unknown command",
			request: "vbox explode",
			code:    202,
			msg:     "Unknown command 'explode'",
		},
		{
			name:    "too few parameters",
			request: "vbox create vbox",
			code:    203,
			msg:     "Bad number of parameters (1 with min/max=2/2)",
		},
		{
			name:    "too many parameters",
			request: "vboxwrapper version extra",
			code:    203,
			msg:     "Bad number of parameters (1 with min/max=0/0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := c.roundTrip(tt.request)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestParserTestEchoesArguments(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	c.send(`vboxwrapper parser_test one "two three"`)
	code, msg, info := c.readReply()
	assert.Equal(t, 100, code)
	assert.Equal(t, "OK", msg)
	require.Len(t, info, 2)
	assert.Equal(t, `arg 0 (len 3): "one"`, info[0])
	assert.Equal(t, `arg 1 (len 9): "two three"`, info[1])
}

func TestModuleAndCommandLists(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	c.send("vboxwrapper module_list")
	code, _, info := c.readReply()
	assert.Equal(t, 100, code)
	assert.Equal(t, []string{"vbox", "vboxwrapper"}, info)

	c.send("vboxwrapper cmd_list vbox")
	code, _, info = c.readReply()
	assert.Equal(t, 100, code)
	assert.Contains(t, info, "start (min/max args: 1/1)")
	assert.Contains(t, info, "create_udp (min/max args: 5/5)")

	code, _ = c.roundTrip("vboxwrapper cmd_list nonesuch")
	assert.Equal(t, 201, code)
}

func TestVBoxVersion(t *testing.T) {
	fake := vbox.NewFake()
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	code, msg := c.roundTrip("vbox version")
	assert.Equal(t, 100, code)
	assert.Equal(t, "4.3.12", msg)
}

func TestVBoxVersionTooOld(t *testing.T) {
	fake := vbox.NewFake()
	fake.EngineVersion = "4.0.8"
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	code, msg := c.roundTrip("vbox version")
	assert.Equal(t, 212, code)
	assert.Contains(t, msg, "Detected VirtualBox version 4.0.8, which is too old.")
}

func TestVBoxVersionNoBackend(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dial(t, srv)

	code, msg := c.roundTrip("vbox version")
	assert.Equal(t, 212, code)
	assert.Contains(t, msg, "Failed to load the VirtualBox API")
}

func TestVMListAndFind(t *testing.T) {
	fake := vbox.NewFake()
	fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	c.send("vbox vm_list")
	code, _, info := c.readReply()
	assert.Equal(t, 100, code)
	assert.Contains(t, info, "debian-11")

	code, _ = c.roundTrip("vbox find_vm debian-11")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox find_vm nonesuch")
	assert.Equal(t, 208, code)
}

func TestInstanceLifecycle(t *testing.T) {
	fake := vbox.NewFake()
	m := fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	code, msg := c.roundTrip("vbox create vbox R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' created", msg)

	code, _ = c.roundTrip("vbox setattr R1 image debian-11")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox setattr R1 nics 2")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox create_udp R1 0 10000 127.0.0.1 10001")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox status R1")
	assert.Equal(t, 100, code)

	code, msg = c.roundTrip("vbox start R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' started", msg)

	// the tunnel recorded before start was applied on launch
	assert.Equal(t, types.AttachmentUDPTunnel, m.Adapters[0].Attachment)
	assert.True(t, m.Adapters[0].Cable)
	assert.Equal(t, "10000", m.Adapters[0].Props["sport"])
	assert.Equal(t, "127.0.0.1", m.Adapters[0].Props["dest"])
	assert.Equal(t, "10001", m.Adapters[0].Props["dport"])

	// the bare slot is present but inert
	assert.True(t, m.Adapters[1].Enabled)
	assert.Equal(t, types.AttachmentNull, m.Adapters[1].Attachment)
	assert.False(t, m.Adapters[1].Cable)

	code, msg = c.roundTrip("vbox suspend R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' suspended", msg)

	code, msg = c.roundTrip("vbox resume R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' resumed", msg)

	code, msg = c.roundTrip("vbox stop R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' stopped", msg)

	// stop left every slot disabled and released the session
	assert.False(t, m.Adapters[0].Enabled)
	assert.False(t, m.Adapters[1].Enabled)
	assert.False(t, m.Locked())

	code, msg = c.roundTrip("vbox delete R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' deleted", msg)

	code, _ = c.roundTrip("vbox start R1")
	assert.Equal(t, 208, code)
}

func TestStatusReportsNumericState(t *testing.T) {
	fake := vbox.NewFake()
	fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")
	_, _ = c.roundTrip("vbox setattr R1 image debian-11")

	code, msg := c.roundTrip("vbox status R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "0", msg) // never started

	_, _ = c.roundTrip("vbox start R1")

	code, msg = c.roundTrip("vbox status R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "3", msg) // running
}

func TestRename(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")

	code, msg := c.roundTrip("vbox rename R1 R2")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' renamed to 'R2'", msg)

	code, _ = c.roundTrip("vbox rename R9 R10")
	assert.Equal(t, 206, code)
}

func TestSetAttrErrors(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")

	code, _ := c.roundTrip("vbox setattr R9 image x")
	assert.Equal(t, 208, code)

	code, msg := c.roundTrip("vbox setattr R1 ram 512")
	assert.Equal(t, 208, code)
	assert.Equal(t, "Cannot set attribute 'ram' for 'R1'", msg)

	code, _ = c.roundTrip("vbox setattr R1 nics many")
	assert.Equal(t, 204, code)
}

func TestQuotedInstanceNames(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	code, msg := c.roundTrip(`vbox create vbox "My Router"`)
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'My Router' created", msg)

	code, _ = c.roundTrip(`vbox setattr "My Router" console 3501`)
	assert.Equal(t, 100, code)
}

func TestDuplicateRequestSuppression(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	code, msg := c.roundTrip("vbox create vbox R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' created", msg)

	// an identical resend replays the recorded reply instead of failing
	// with "already exists"
	code, msg = c.roundTrip("vbox create vbox R1")
	assert.Equal(t, 100, code)
	assert.Equal(t, "VBox 'R1' created", msg)

	// the hit invalidated the slot; a third send executes for real
	code, _ = c.roundTrip("vbox create vbox R1")
	assert.Equal(t, 206, code)
}

func TestCaptureCommands(t *testing.T) {
	fake := vbox.NewFake()
	m := fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")
	_, _ = c.roundTrip("vbox setattr R1 image debian-11")
	_, _ = c.roundTrip("vbox setattr R1 nics 2")

	code, _ := c.roundTrip("vbox create_capture R1 1 /tmp/r1.pcap")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox create_capture R1 9 /tmp/r1.pcap")
	assert.Equal(t, 204, code)

	_, _ = c.roundTrip("vbox start R1")
	assert.True(t, m.Adapters[1].TraceEnabled)
	assert.Equal(t, "/tmp/r1.pcap", m.Adapters[1].TraceFile)

	code, _ = c.roundTrip("vbox delete_capture R1 1")
	assert.Equal(t, 100, code)
}

func TestDeleteUDPCommand(t *testing.T) {
	fake := vbox.NewFake()
	fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")
	_, _ = c.roundTrip("vbox create_udp R1 0 10000 127.0.0.1 10001")

	code, _ := c.roundTrip("vbox delete_udp R1 0")
	assert.Equal(t, 100, code)

	code, _ = c.roundTrip("vbox create_udp R1 99 10000 127.0.0.1 10001")
	assert.Equal(t, 206, code)

	code, _ = c.roundTrip("vbox create_udp R1 0 bad 127.0.0.1 10001")
	assert.Equal(t, 204, code)
}

func TestCloseEndsConnection(t *testing.T) {
	srv := startTestServer(t, vbox.NewFake())
	c := dial(t, srv)

	code, _ := c.roundTrip("vboxwrapper close")
	assert.Equal(t, 100, code)

	_, err := c.r.ReadString('\n')
	assert.Error(t, err)
}

func TestWrapperStopShutsServerDown(t *testing.T) {
	fake := vbox.NewFake()
	fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")
	_, _ = c.roundTrip("vbox setattr R1 image debian-11")
	_, _ = c.roundTrip("vbox start R1")

	code, _ := c.roundTrip("vboxwrapper stop")
	assert.Equal(t, 100, code)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := net.Dial("tcp", srv.Addr()); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server still accepting after stop")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWrapperResetStopsInstances(t *testing.T) {
	fake := vbox.NewFake()
	m := fake.AddMachine("debian-11")
	srv := startTestServer(t, fake)
	c := dial(t, srv)

	_, _ = c.roundTrip("vbox create vbox R1")
	_, _ = c.roundTrip("vbox setattr R1 image debian-11")
	_, _ = c.roundTrip("vbox start R1")

	code, _ := c.roundTrip("vboxwrapper reset")
	assert.Equal(t, 100, code)
	assert.Equal(t, "stopped", m.MachineState.String())

	code, _ = c.roundTrip("vbox status R1")
	assert.Equal(t, 208, code)
}
