package sshfront

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ryanfantus/bbsfw/internal/encoding"
	"github.com/ryanfantus/bbsfw/internal/ipfilter"
)

func generateTestHostKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(block)
}

func TestNewRejectsInvalidHostKey(t *testing.T) {
	_, err := New(Config{HostKeyPEM: []byte("not a key")})
	if err == nil {
		t.Fatal("expected error for invalid host key PEM")
	}
}

func TestNewAcceptsValidHostKey(t *testing.T) {
	pemBytes := generateTestHostKeyPEM(t)
	srv, err := New(Config{HostKeyPEM: pemBytes, Filter: ipfilter.New(ipfilter.Config{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.sshCfg == nil {
		t.Fatal("expected sshCfg to be populated")
	}
}

func TestHandshakeAndShellBridgesToBackend(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		io.ReadFull(conn, buf)
		conn.Write([]byte("pong"))
	}()

	_, portStr, _ := net.SplitHostPort(backendLn.Addr().String())
	var backendPort int
	for _, c := range portStr {
		backendPort = backendPort*10 + int(c-'0')
	}

	pemBytes := generateTestHostKeyPEM(t)
	srv, err := New(Config{
		HostKeyPEM:  pemBytes,
		Filter:      ipfilter.New(ipfilter.Config{}),
		BackendHost: "127.0.0.1",
		Ports:       encoding.PortConfig{DetectionEnabled: false, DefaultPort: backendPort},
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

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

	clientCfg := &ssh.ClientConfig{
		User:            "anyone",
		Auth:            []ssh.AuthMethod{ssh.Password("anything")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}
	client, err := ssh.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}

	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	if _, err := stdin.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	errCh := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(stdout, buf)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("read from shell: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for backend reply over ssh channel")
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q, want pong", buf)
	}
}

func TestHandshakeDeniedWhenBlocked(t *testing.T) {
	pemBytes := generateTestHostKeyPEM(t)
	srv, err := New(Config{
		HostKeyPEM: pemBytes,
		Filter:     ipfilter.New(ipfilter.Config{Blocklist: []string{"127.0.0.1"}}),
	})
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	srv.ln = ln

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			srv.handle(conn)
		}
	}()

	clientCfg := &ssh.ClientConfig{
		User:            "anyone",
		Auth:            []ssh.AuthMethod{ssh.Password("anything")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second,
	}
	_, err = ssh.Dial("tcp", ln.Addr().String(), clientCfg)
	if err == nil {
		t.Fatal("expected handshake to fail for a blocked IP")
	}
}
