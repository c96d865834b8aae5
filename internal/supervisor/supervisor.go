// Package supervisor owns the global active-connection counter and the
// front-end listener lifecycle: Run starts the registered plain-TCP and
// (optionally) SSH listeners, and Shutdown closes them. Signal handling is
// left to the caller (cmd/bbsgate), which calls Shutdown on a signal.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/logging"
)

// DefaultShutdownGrace bounds how long Shutdown waits for in-flight
// sessions to end before returning, mirroring a hard-exit timer rather
// than waiting indefinitely on stuck connections.
const DefaultShutdownGrace = 10 * time.Second

// Config bounds the Supervisor's admission behavior.
type Config struct {
	MaxConnections int
}

// DefaultConfig returns a permissive default.
func DefaultConfig() Config {
	return Config{MaxConnections: 100}
}

// Listener is anything the Supervisor can start and stop: tcpfront.Server
// and sshfront.Server both satisfy it.
type Listener interface {
	Serve() error
	Close() error
}

// Stats is a point-in-time snapshot exposed to the metrics package.
type Stats struct {
	ActiveConnections int64
	MaxConnections    int
	Uptime            time.Duration
	Filter            ipfilter.Stats
}

// Supervisor tracks the global active-connection count and owns listener
// lifecycle. It is constructed explicitly per process; there is no
// package-level singleton.
type Supervisor struct {
	cfg       Config
	log       *logging.Logger
	filter    *ipfilter.Filter
	active    int64
	startedAt time.Time

	listeners []Listener
}

// New builds a Supervisor bound to filter (for stats reporting only; the
// Supervisor does not call into the filter for admission decisions —
// that is each front-end's job).
func New(cfg Config, filter *ipfilter.Filter) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		log:       logging.Default().WithComponent("supervisor"),
		filter:    filter,
		startedAt: time.Now(),
	}
}

// TryAcquire reserves one slot against MaxConnections. It returns false,
// without reserving anything, if the cap has already been reached.
func (s *Supervisor) TryAcquire() bool {
	for {
		cur := atomic.LoadInt64(&s.active)
		if int(cur) >= s.cfg.MaxConnections {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.active, cur, cur+1) {
			return true
		}
	}
}

// Release returns one slot reserved by a prior successful TryAcquire.
func (s *Supervisor) Release() {
	atomic.AddInt64(&s.active, -1)
}

// ActiveConnections returns the current reserved-slot count.
func (s *Supervisor) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.active)
}

// Register adds a listener to be started by Run and stopped by Shutdown.
func (s *Supervisor) Register(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Run starts every registered listener in its own goroutine. Listener
// errors are logged; Run itself returns immediately once all listeners
// have been launched.
func (s *Supervisor) Run() {
	for _, l := range s.listeners {
		l := l
		go func() {
			if err := l.Serve(); err != nil {
				s.log.Error("listener exited", "error", err)
			}
		}()
	}
}

// Shutdown closes every registered listener, then waits until no session
// is active, ctx is done, or DefaultShutdownGrace elapses, whichever comes
// first, and returns.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.log.Info("shutting down")
	for _, l := range s.listeners {
		if err := l.Close(); err != nil {
			s.log.Debug("error closing listener", "error", err)
		}
	}

	grace, cancel := context.WithTimeout(ctx, DefaultShutdownGrace)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.ActiveConnections() > 0 {
		select {
		case <-grace.Done():
			return
		case <-ticker.C:
		}
	}
}

// GetStats returns a snapshot of admission and capacity state.
func (s *Supervisor) GetStats() Stats {
	var fstats ipfilter.Stats
	if s.filter != nil {
		fstats = s.filter.GetStats()
	}
	return Stats{
		ActiveConnections: s.ActiveConnections(),
		MaxConnections:    s.cfg.MaxConnections,
		Uptime:            time.Since(s.startedAt),
		Filter:            fstats,
	}
}
