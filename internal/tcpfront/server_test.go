package tcpfront

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ryanfantus/bbsfw/internal/bytepump"
	"github.com/ryanfantus/bbsfw/internal/encoding"
	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/session"
)

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func portOf(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	return port
}

func TestServerAdmitsAndBridgesToBackend(t *testing.T) {
	backendLn := listenLoopback(t)
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("reply"))
	}()

	backendPort := portOf(t, backendLn)

	var ended session.Session
	endedCh := make(chan struct{}, 1)

	srv := New(Config{
		ListenAddr: "127.0.0.1:0",
		Filter:     ipfilter.New(ipfilter.Config{}),
		BackendHost: "127.0.0.1",
		Ports: encoding.PortConfig{
			DetectionEnabled: false,
			DefaultPort:      backendPort,
		},
		DialTimeout: time.Second,
		IdleTimeout: 0,
		OnSessionEnd: func(s *session.Session, _ bytepump.Result) {
			ended = *s
			endedCh <- struct{}{}
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.ln = ln
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go srv.handle(conn)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial front-end: %v", err)
	}
	defer clientConn.Close()

	clientConn.Write([]byte("hello"))
	buf := make([]byte, 5)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientConn, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf) != "reply" {
		t.Fatalf("got %q, want reply", buf)
	}

	select {
	case <-endedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnSessionEnd never called")
	}
	if ended.BackendAddr == "" {
		t.Error("expected BackendAddr to be set on ended session")
	}
}

func TestServerDeniesBlockedIP(t *testing.T) {
	srv := New(Config{
		Filter: ipfilter.New(ipfilter.Config{Blocklist: []string{"127.0.0.1"}}),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	srv.ln = ln

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	serverSide := <-connCh
	srv.handle(serverSide)

	buf := make([]byte, 1)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = clientConn.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be closed by the server for a blocked IP")
	}
}
