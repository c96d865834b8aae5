package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ryanfantus/bbsfw/internal/ipfilter"
)

func TestTryAcquireRespectsCap(t *testing.T) {
	s := New(Config{MaxConnections: 2}, ipfilter.New(ipfilter.Config{}))

	if !s.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !s.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if s.TryAcquire() {
		t.Fatal("expected third acquire to fail at cap")
	}

	s.Release()
	if !s.TryAcquire() {
		t.Fatal("expected acquire to succeed after a release")
	}
}

func TestActiveConnectionsReflectsAcquireRelease(t *testing.T) {
	s := New(Config{MaxConnections: 5}, nil)
	s.TryAcquire()
	s.TryAcquire()
	if got := s.ActiveConnections(); got != 2 {
		t.Fatalf("ActiveConnections() = %d, want 2", got)
	}
	s.Release()
	if got := s.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections() = %d, want 1", got)
	}
}

type fakeListener struct {
	served chan struct{}
	closed chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{served: make(chan struct{}, 1), closed: make(chan struct{}, 1)}
}

func (f *fakeListener) Serve() error {
	f.served <- struct{}{}
	<-f.closed
	return errors.New("closed")
}

func (f *fakeListener) Close() error {
	close(f.closed)
	return nil
}

func TestRunAndShutdown(t *testing.T) {
	s := New(DefaultConfig(), nil)
	l := newFakeListener()
	s.Register(l)
	s.Run()

	select {
	case <-l.served:
	case <-time.After(time.Second):
		t.Fatal("listener never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.Shutdown(ctx)
}

func TestGetStatsReportsFilterStats(t *testing.T) {
	f := ipfilter.New(ipfilter.Config{Whitelist: []string{"10.0.0.1"}})
	f.ShouldAllow("10.0.0.1")

	s := New(Config{MaxConnections: 10}, f)
	stats := s.GetStats()
	if stats.Filter.Whitelisted != 1 {
		t.Errorf("Filter.Whitelisted = %d, want 1", stats.Filter.Whitelisted)
	}
	if stats.MaxConnections != 10 {
		t.Errorf("MaxConnections = %d, want 10", stats.MaxConnections)
	}
}
