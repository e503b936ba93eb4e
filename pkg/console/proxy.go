package console

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/GNS3/vboxwrapper/pkg/log"
)

// Proxy bridges a VM serial console pipe to a TCP listener so clients can
// telnet into the guest console. One client is served at a time; a new
// connection displaces the previous one.
type Proxy struct {
	vmName string
	pipe   net.Conn
	ln     net.Listener

	mu      sync.Mutex
	client  net.Conn
	closed  bool
	stopped chan struct{}
}

// New connects to the VM serial pipe endpoint and listens on host:port.
// The caller owns the returned proxy and must Stop it before releasing the
// VM session.
func New(vmName, pipePath, host string, port int) (*Proxy, error) {
	pipe, err := net.Dial("unix", pipePath)
	if err != nil {
		return nil, fmt.Errorf("connection to pipe %s failed: %w", pipePath, err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("console listen failed: %w", err)
	}

	return &Proxy{
		vmName:  vmName,
		pipe:    pipe,
		ln:      ln,
		stopped: make(chan struct{}),
	}, nil
}

// Start begins accepting console clients in the background
func (p *Proxy) Start() {
	go p.serve()
}

func (p *Proxy) serve() {
	logger := log.WithInstance(p.vmName)
	defer close(p.stopped)

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				logger.Error().Err(err).Msg("console accept failed")
			}
			return
		}

		p.mu.Lock()
		if p.client != nil {
			p.client.Close()
		}
		p.client = conn
		p.mu.Unlock()

		logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("console client connected")
		p.bridge(conn)
	}
}

// bridge copies bytes both ways until either side closes
func (p *Proxy) bridge(client net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(p.pipe, client)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, p.pipe)
		done <- struct{}{}
	}()
	<-done
	client.Close()
}

// Stop tears the proxy down: listener first, then the pipe side
func (p *Proxy) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	client := p.client
	p.mu.Unlock()

	p.ln.Close()
	if client != nil {
		client.Close()
	}
	p.pipe.Close()
	<-p.stopped
}

// Addr returns the TCP address the proxy listens on
func (p *Proxy) Addr() net.Addr {
	return p.ln.Addr()
}
