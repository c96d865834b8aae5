// Package bytepump copies bytes bidirectionally between two full-duplex
// endpoints until either side closes, then tears both down together. It
// never attempts a half-open shutdown: on any terminating event both
// endpoints are closed, since leaving one half open behind a NAT tends to
// hang rather than recover.
package bytepump

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ryanfantus/bbsfw/internal/logging"
)

// backendKeepAlive matches the fixed 30s backend keepalive interval.
const backendKeepAlive = 30 * time.Second

const copyBufferSize = 32 * 1024

// Endpoint is the minimal surface the pump needs from each side. Both
// net.Conn and an SSH channel (which is an io.ReadWriteCloser but not a
// net.Conn) satisfy it.
type Endpoint io.ReadWriteCloser

// Result is the outcome of a finished pump session.
type Result struct {
	Reason    string
	BytesAtoB uint64
	BytesBtoA uint64
	Duration  time.Duration
}

// Known termination reasons.
const (
	ReasonNoPeerAddress  = "no-peer-address"
	ReasonBackendDialErr = "backend-dial-error"
	ReasonClientError    = "client-error"
	ReasonBackendError   = "backend-error"
	ReasonClientClose    = "client-close"
	ReasonBackendClose   = "backend-close"
	ReasonTimeout        = "timeout"
)

// TuneTCP enables TCP_NODELAY and keepalive on conn, using the backend
// keepalive interval when isBackend is set. Non-TCP connections (e.g. an
// SSH channel) are left untouched.
func TuneTCP(conn net.Conn, isBackend bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
	if isBackend {
		_ = tc.SetKeepAlivePeriod(backendKeepAlive)
	}
}

// Pump copies bytes between a (named A) and b (named B) until either side
// terminates, then closes both. idleTimeout, when non-zero, tears the
// session down with reason "timeout" if neither direction transfers a
// byte for that long. If a is nil, the session is refused immediately
// with ReasonNoPeerAddress and b (if non-nil) is closed.
func Pump(a, b Endpoint, idleTimeout time.Duration) Result {
	log := logging.Default().WithComponent("bytepump")
	start := time.Now()

	if a == nil || b == nil {
		if b != nil {
			_ = b.Close()
		}
		if a != nil {
			_ = a.Close()
		}
		return Result{Reason: ReasonNoPeerAddress, Duration: time.Since(start)}
	}

	var (
		once      sync.Once
		reason    string
		bytesAtoB uint64
		bytesBtoA uint64
		lastIO    int64 // unix nano, accessed only through idle watchdog + direction goroutines under mu
		mu        sync.Mutex
	)

	finish := func(r string) {
		once.Do(func() {
			reason = r
			_ = a.Close()
			_ = b.Close()
		})
	}

	touch := func() {
		mu.Lock()
		lastIO = time.Now().UnixNano()
		mu.Unlock()
	}
	touch()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := copyDirection(b, a, touch)
		bytesAtoB = n
		if err != nil {
			if err == io.EOF {
				finish(ReasonClientClose)
			} else {
				log.Debug("client side terminated", "error", err)
				finish(ReasonClientError)
			}
		} else {
			finish(ReasonClientClose)
		}
	}()

	go func() {
		defer wg.Done()
		n, err := copyDirection(a, b, touch)
		bytesBtoA = n
		if err != nil {
			if err == io.EOF {
				finish(ReasonBackendClose)
			} else {
				log.Debug("backend side terminated", "error", err)
				finish(ReasonBackendError)
			}
		} else {
			finish(ReasonBackendClose)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if idleTimeout > 0 {
		ticker := time.NewTicker(idleTimeout / 4)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-done:
				break loop
			case <-ticker.C:
				mu.Lock()
				idle := time.Since(time.Unix(0, lastIO))
				mu.Unlock()
				if idle >= idleTimeout {
					finish(ReasonTimeout)
				}
			}
		}
	}

	<-done
	return Result{
		Reason:    reason,
		BytesAtoB: bytesAtoB,
		BytesBtoA: bytesBtoA,
		Duration:  time.Since(start),
	}
}

// copyDirection reads bounded chunks from src and writes them to dst,
// calling touch after every successful transfer. It returns the total
// bytes moved and the terminating error (io.EOF on a graceful close).
func copyDirection(dst io.Writer, src io.Reader, touch func()) (uint64, error) {
	buf := make([]byte, copyBufferSize)
	var total uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += uint64(n)
			touch()
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, io.EOF
			}
			return total, rerr
		}
	}
}

// DialBackend connects to addr, applying TCP tuning on success. A dial
// failure returns the dial error unchanged; it does not carry
// ReasonBackendDialErr and no Result is produced for it. The caller is
// responsible for closing the client side.
func DialBackend(network, addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	TuneTCP(conn, true)
	return conn, nil
}
