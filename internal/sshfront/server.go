// Package sshfront implements the optional SSH front-end: transport
// termination, unconditional credential acceptance, PTY/shell channel
// handling, and hand-off to the byte pump. It drives
// golang.org/x/crypto/ssh directly rather than a higher-level server
// framework, since the channel lifecycle (PTY accept, shell-only
// bridging, exec rejection) needs explicit control.
package sshfront

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ryanfantus/bbsfw/internal/bytepump"
	"github.com/ryanfantus/bbsfw/internal/encoding"
	"github.com/ryanfantus/bbsfw/internal/geoip"
	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/logging"
	"github.com/ryanfantus/bbsfw/internal/session"
)

// Admitter mirrors tcpfront.Admitter so both front-ends share one
// Supervisor without an import cycle.
type Admitter interface {
	TryAcquire() bool
	Release()
}

// Config wires together the components one SSH listener needs.
type Config struct {
	ListenAddr string
	HostKeyPEM []byte
	Ciphers    []string

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

// Server is a single SSH front-end listener.
type Server struct {
	cfg    Config
	log    *logging.Logger
	sshCfg *ssh.ServerConfig
	ln     net.Listener
}

// New parses the host key and cipher configuration. It returns an error
// if the host key cannot be parsed — the caller should treat that as a
// fatal startup error per spec.
func New(cfg Config) (*Server, error) {
	signer, err := ssh.ParsePrivateKey(cfg.HostKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("sshfront: parse host key: %w", err)
	}

	sshCfg := &ssh.ServerConfig{
		// Any password or none attempt is accepted; the username is
		// recorded for logging only.
		PasswordCallback: func(meta ssh.ConnMetadata, _ []byte) (*ssh.Permissions, error) {
			return &ssh.Permissions{Extensions: map[string]string{"user": meta.User()}}, nil
		},
	}
	if len(cfg.Ciphers) > 0 {
		sshCfg.Config.Ciphers = cfg.Ciphers
	}
	sshCfg.AddHostKey(signer)
	// x/crypto/ssh only consults NoClientAuthCallback when NoClientAuth is
	// set; the callback still runs (rather than skipping auth outright) so
	// the offered username is captured for logging.
	sshCfg.NoClientAuth = true
	sshCfg.NoClientAuthCallback = func(meta ssh.ConnMetadata) (*ssh.Permissions, error) {
		return &ssh.Permissions{Extensions: map[string]string{"user": meta.User()}}, nil
	}

	return &Server{cfg: cfg, log: logging.Default().WithComponent("sshfront"), sshCfg: sshCfg}, nil
}

func (s *Server) reportAdmission(d ipfilter.Decision) {
	if s.cfg.OnAdmission != nil {
		s.cfg.OnAdmission(d)
	}
}

// LoadHostKey reads a PEM-format private key from path.
func LoadHostKey(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Serve binds cfg.ListenAddr and accepts connections until the listener
// is closed.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("sshfront: listen %s: %w", s.cfg.ListenAddr, err)
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

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr()
	if remote == nil {
		conn.Close()
		return
	}
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}

	decision := s.cfg.Filter.ShouldAllow(host)
	if !decision.Allowed {
		s.log.Info("admission denied before ssh handshake", "ip", host, "reason", decision.Reason)
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
			s.log.Info("admission denied by geo-filter before ssh handshake", "ip", host)
			s.reportAdmission(ipfilter.Decision{Allowed: false, Reason: reason})
			conn.Close()
			return
		}
	}
	s.reportAdmission(decision)

	// The global cap is only consumed once a session is actually admitted,
	// so a flood of filtered-out peers cannot exhaust it.
	if s.cfg.Supervisor != nil && !s.cfg.Supervisor.TryAcquire() {
		s.log.Warn("rejected, global connection cap reached", "ip", host)
		conn.Close()
		return
	}
	defer func() {
		if s.cfg.Supervisor != nil {
			s.cfg.Supervisor.Release()
		}
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshCfg)
	if err != nil {
		s.log.Debug("ssh handshake failed", "ip", host, "error", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	username := sshConn.User()
	s.log.Info("ssh session authenticated", "ip", host, "user", username)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			s.log.Debug("failed to accept session channel", "ip", host, "error", err)
			continue
		}
		go s.handleSessionChannel(host, username, ch, chReqs)
	}
}

type ptyRequest struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	ModeList string
}

// handleSessionChannel implements the per-channel state machine: pty-req
// is accepted unconditionally (no terminal modes applied), window-change
// is accepted and ignored, exec is rejected, and shell establishes the
// backend connection and hands both ends to the byte pump.
func (s *Server) handleSessionChannel(clientHost, username string, ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	var termType string
	env := make(map[string]string)

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				termType = p.Term
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "env":
			var e struct{ Name, Value string }
			if err := ssh.Unmarshal(req.Payload, &e); err == nil {
				env[e.Name] = e.Value
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "exec":
			if req.WantReply {
				req.Reply(false, nil)
			}
			return
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.bridgeShell(clientHost, termType, env, ch)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) bridgeShell(clientHost, termType string, env map[string]string, ch ssh.Channel) {
	enc := encoding.Detect(env, termType)
	port := encoding.BackendPort(enc, s.cfg.Ports)
	backendAddr := fmt.Sprintf("%s:%d", s.cfg.BackendHost, port)

	backend, err := bytepump.DialBackend("tcp", backendAddr, s.cfg.DialTimeout)
	if err != nil {
		s.log.Warn("backend dial failed", "ip", clientHost, "backend", backendAddr, "error", err)
		return
	}

	sess := session.New(clientHost, backendAddr, enc, termType)
	result := bytepump.Pump(ch, backend, s.cfg.IdleTimeout)
	sess.BytesClientToBackend = result.BytesAtoB
	sess.BytesBackendToClient = result.BytesBtoA
	sess.EndReason = result.Reason

	s.log.Info("ssh session ended", "session", sess.ID, "reason", result.Reason,
		"bytes_up", result.BytesAtoB, "bytes_down", result.BytesBtoA)

	if s.cfg.OnSessionEnd != nil {
		s.cfg.OnSessionEnd(sess, result)
	}
}
