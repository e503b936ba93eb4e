package server

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GNS3/vboxwrapper/pkg/log"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/registry"
	"github.com/GNS3/vboxwrapper/pkg/vbox"
)

// acceptPoll bounds how long the accept loop blocks before re-checking the
// shutdown flag
const acceptPoll = 100 * time.Millisecond

// Config holds server construction options
type Config struct {
	// Addr is the host:port to listen on; an empty host listens on all
	// interfaces
	Addr string
	// ForceIPv6 restricts the listener to IPv6
	ForceIPv6 bool
	// Registry holds the managed instances; required
	Registry *registry.Registry
	// Backend is the hypervisor API; nil degrades to protocol-only mode
	Backend vbox.Backend
	// RequiredVersion is the minimum acceptable backend version, e.g. "4.1"
	RequiredVersion string
	// Version is the wrapper version reported to clients
	Version string
}

// Server accepts control connections and serves the line protocol. Each
// connection runs in its own goroutine; none of them block shutdown.
type Server struct {
	cfg      Config
	reg      *registry.Registry
	backend  vbox.Backend
	cache    replyCache
	commands map[string]map[string]command
	logger   zerolog.Logger

	stopping atomic.Bool
	addr     atomic.Value // string, set once the listener is bound
}

// Addr returns the bound listen address, or "" before ListenAndServe binds.
// Useful when the configured port is 0.
func (s *Server) Addr() string {
	if v := s.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// command pairs a handler with its declared argument range
type command struct {
	min, max int
	fn       func(c *conn, args []string)
}

// New creates a server around the registry and backend
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     cfg.Registry,
		backend: cfg.Backend,
		logger:  log.WithComponent("server"),
	}
	s.commands = s.commandTable()
	return s
}

// Stop flags the accept loop to exit on its next poll. In-flight commands
// run to completion.
func (s *Server) Stop() {
	s.stopping.Store(true)
}

// ListenAndServe accepts connections until Stop is called, then stops every
// registered instance and returns.
func (s *Server) ListenAndServe() error {
	network := "tcp"
	if s.cfg.ForceIPv6 {
		network = "tcp6"
	}
	ln, err := net.Listen(network, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	defer ln.Close()

	tcpLn := ln.(*net.TCPListener)
	s.addr.Store(ln.Addr().String())
	metrics.UpdateComponent("server", true, "listening on "+ln.Addr().String())
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP control server started")

	for !s.stopping.Load() {
		if err := tcpLn.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
			return fmt.Errorf("server deadline: %w", err)
		}
		nc, err := tcpLn.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.stopping.Load() {
				break
			}
			s.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(nc)
	}

	metrics.UpdateComponent("server", false, "stopped")
	s.reg.Shutdown()
	return nil
}

// conn is one client connection's state
type conn struct {
	server *Server
	nc     net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	logger zerolog.Logger

	// module/command of the request being handled, for metrics
	module  string
	command string

	closing bool
}

func (s *Server) handleConn(nc net.Conn) {
	connID := uuid.NewString()[:8]
	logger := log.WithConnID(connID)
	logger.Info().Str("remote", nc.RemoteAddr().String()).Msg("connection opened")

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer nc.Close()

	c := &conn{
		server: s,
		nc:     nc,
		r:      bufio.NewReader(nc),
		w:      bufio.NewWriter(nc),
		logger: logger,
	}

	for !c.closing && !s.stopping.Load() {
		raw, err := c.r.ReadString('\n')
		if err != nil {
			break
		}
		s.handleRequest(c, raw)
	}
	logger.Info().Msg("connection closed")
}

// handleRequest serves one raw request line: reply cache first, then parse,
// then dispatch
func (s *Server) handleRequest(c *conn, raw string) {
	now := time.Now()
	if cached, hit := s.cache.lookup(raw, now); hit {
		metrics.ReplyCacheHitsTotal.Inc()
		c.logger.Debug().Msg("request answered from reply cache")
		c.writeRaw(cached)
		return
	}
	s.cache.begin(raw)

	c.module, c.command = "", ""

	tokens, err := tokenize(trimLine(raw))
	if err != nil || len(tokens) < 2 {
		c.reply(codeErrParsing, true, "At least a module and a command must be specified")
		return
	}

	module, cmdName := tokens[0], tokens[1]
	args := tokens[2:]

	mod, ok := s.commands[module]
	if !ok {
		c.reply(codeErrUnkModule, true, fmt.Sprintf("Unknown module '%s'", module))
		return
	}
	cmd, ok := mod[cmdName]
	if !ok {
		c.reply(codeErrUnkCmd, true, fmt.Sprintf("Unknown command '%s'", cmdName))
		return
	}
	if len(args) < cmd.min || len(args) > cmd.max {
		c.reply(codeErrBadParam, true, fmt.Sprintf(
			"Bad number of parameters (%d with min/max=%d/%d)",
			len(args), cmd.min, cmd.max))
		return
	}

	c.module, c.command = module, cmdName
	timer := metrics.NewTimer()
	cmd.fn(c, args)
	timer.ObserveDurationVec(metrics.CommandDuration, module, cmdName)
}

// trimLine strips the line delimiter from a raw request
func trimLine(raw string) string {
	for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
		raw = raw[:len(raw)-1]
	}
	return raw
}

// reply writes one reply line. final selects the '-' separator closing the
// reply; informational lines use a space and must be followed by more lines.
func (c *conn) reply(code int, final bool, msg string) {
	sep := " "
	if final {
		sep = "-"
	}
	line := fmt.Sprintf("%3d%s%s\r\n", code, sep, msg)
	c.server.cache.record(line, time.Now())
	c.writeRaw(line)

	if final && c.module != "" {
		metrics.CommandsTotal.WithLabelValues(c.module, c.command, strconv.Itoa(code)).Inc()
	}
}

func (c *conn) writeRaw(line string) {
	if _, err := c.w.WriteString(line); err != nil {
		c.closing = true
		return
	}
	if err := c.w.Flush(); err != nil {
		c.closing = true
	}
}
