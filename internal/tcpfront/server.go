// Package tcpfront implements the plain-TCP listener front-end: admission,
// encoding-default backend selection, and hand-off to the byte pump.
package tcpfront

import (
	"fmt"
	"net"
	"time"

	"github.com/ryanfantus/bbsfw/internal/bytepump"
	"github.com/ryanfantus/bbsfw/internal/encoding"
	"github.com/ryanfantus/bbsfw/internal/geoip"
	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/logging"
	"github.com/ryanfantus/bbsfw/internal/session"
)

// Admitter is the subset of the Supervisor a front-end needs to reserve and
// release a slot against the global connection cap.
type Admitter interface {
	TryAcquire() bool
	Release()
}

// Config wires together the components one plain-TCP listener needs.
type Config struct {
	ListenAddr string

	Filter              *ipfilter.Filter
	Geo                 *geoip.Filter
	Blocked             map[string]bool
	BlockUnknownCountry bool

	Supervisor Admitter

	BackendHost string
	Ports       encoding.PortConfig
	DialTimeout time.Duration
	IdleTimeout time.Duration

	OnSessionEnd func(*session.Session, bytepump.Result)
	OnAdmission  func(ipfilter.Decision)
}

// Server is a single plain-TCP front-end listener.
type Server struct {
	cfg Config
	log *logging.Logger
	ln  net.Listener
}

// New constructs a Server; call Serve to start accepting.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, log: logging.Default().WithComponent("tcpfront")}
}

// Serve binds cfg.ListenAddr and accepts connections until the listener is
// closed (via Close, typically from a signal handler).
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("tcpfront: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	s.log.Info("listening", "addr", s.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) reportAdmission(d ipfilter.Decision) {
	if s.cfg.OnAdmission != nil {
		s.cfg.OnAdmission(d)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	id := session.NextID()
	remote := conn.RemoteAddr()
	if remote == nil {
		s.log.Warn("connection has no peer address", "session", id)
		conn.Close()
		return
	}

	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}

	decision := s.cfg.Filter.ShouldAllow(host)
	if !decision.Allowed {
		s.log.Info("admission denied", "session", id, "ip", host, "reason", decision.Reason)
		s.reportAdmission(decision)
		conn.Close()
		return
	}

	if !decision.Whitelisted && s.cfg.Geo != nil {
		if s.cfg.Geo.IsBlocked(host, s.cfg.Blocked, s.cfg.BlockUnknownCountry) {
			reason := "Blocked country"
			if s.cfg.Geo.CountryCode(host) == "" {
				reason = "Blocked unknown country"
			}
			s.log.Info("admission denied by geo-filter", "session", id, "ip", host)
			s.reportAdmission(ipfilter.Decision{Allowed: false, Reason: reason})
			conn.Close()
			return
		}
	}
	s.reportAdmission(decision)

	// The global cap is only consumed once a session is actually admitted,
	// so a flood of filtered-out peers cannot exhaust it.
	if s.cfg.Supervisor != nil && !s.cfg.Supervisor.TryAcquire() {
		s.log.Warn("rejected, global connection cap reached", "session", id, "ip", host)
		conn.Close()
		return
	}
	defer func() {
		if s.cfg.Supervisor != nil {
			s.cfg.Supervisor.Release()
		}
	}()

	// No SSH environment hints are available on a raw TCP socket, so
	// encoding detection falls back to its cp437 default.
	enc := encoding.Detect(nil, "")
	port := encoding.BackendPort(enc, s.cfg.Ports)
	backendAddr := fmt.Sprintf("%s:%d", s.cfg.BackendHost, port)

	backend, err := bytepump.DialBackend("tcp", backendAddr, s.cfg.DialTimeout)
	if err != nil {
		s.log.Warn("backend dial failed", "session", id, "backend", backendAddr, "error", err)
		conn.Close()
		return
	}

	bytepump.TuneTCP(conn, false)

	sess := session.New(host, backendAddr, enc, "")
	sess.ID = id

	result := bytepump.Pump(conn, backend, s.cfg.IdleTimeout)
	sess.BytesClientToBackend = result.BytesAtoB
	sess.BytesBackendToClient = result.BytesBtoA
	sess.EndReason = result.Reason

	s.log.Info("session ended", "session", id, "reason", result.Reason,
		"bytes_up", result.BytesAtoB, "bytes_down", result.BytesBtoA)

	if s.cfg.OnSessionEnd != nil {
		s.cfg.OnSessionEnd(sess, result)
	}
}
