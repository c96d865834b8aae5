// Package ipfilter implements the whitelist/blocklist/rate-limit admission
// layer. A Filter is constructed explicitly per process (no package-level
// singleton, per the source's re-architecture note) and is safe for
// concurrent use by every front-end.
package ipfilter

import (
	"fmt"
	"sync"
	"time"

	"github.com/ryanfantus/bbsfw/internal/logging"
	"github.com/ryanfantus/bbsfw/internal/netutil"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed     bool
	Whitelisted bool
	Reason      string
}

// Config controls rate-limiting behavior. Whitelist and Blocklist entries
// are parsed once at construction and never change for the lifetime of the
// Filter.
type Config struct {
	Whitelist []string
	Blocklist []string

	RateLimitEnabled         bool
	MaxConnectionsPerWindow  int
	Window                   time.Duration
	BlockDuration            time.Duration
}

type temporaryBlock struct {
	reason       string
	blockedAt    time.Time
	blockedUntil time.Time
}

type stats struct {
	whitelisted   uint64
	blocked       uint64
	rateLimited   uint64
	allowed       uint64
}

// Filter owns the mutable rate-limit and temporary-block state. Whitelist
// and blocklist sets are immutable once built.
type Filter struct {
	cfg Config
	log *logging.Logger

	whitelist []netutil.CidrEntry
	blocklist []netutil.CidrEntry

	// exact-match indices give O(1) hits for KindExact entries (entries
	// that are not IPv4, such as IPv6 literals) before falling back to the
	// O(k) CIDR scan. A single IPv4 address is parsed as a /32 CIDR and is
	// not in these indices; it is found by the scan.
	whitelistExact map[string]bool
	blocklistExact map[string]bool

	mu              sync.Mutex
	rateState       map[string][]time.Time
	temporaryBlocks map[string]temporaryBlock
	stats           stats

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New builds a Filter from cfg, parsing every whitelist/blocklist entry
// up front so malformed lines surface immediately rather than at match
// time.
func New(cfg Config) *Filter {
	f := &Filter{
		cfg:             cfg,
		log:             logging.Default().WithComponent("ipfilter"),
		whitelistExact:  make(map[string]bool),
		blocklistExact:  make(map[string]bool),
		rateState:       make(map[string][]time.Time),
		temporaryBlocks: make(map[string]temporaryBlock),
	}

	for _, raw := range cfg.Whitelist {
		entry := netutil.ParseCidr(raw)
		f.whitelist = append(f.whitelist, entry)
		if entry.Kind == netutil.KindExact {
			f.whitelistExact[entry.Raw] = true
		}
	}
	for _, raw := range cfg.Blocklist {
		entry := netutil.ParseCidr(raw)
		f.blocklist = append(f.blocklist, entry)
		if entry.Kind == netutil.KindExact {
			f.blocklistExact[entry.Raw] = true
		}
	}

	return f
}

// StartJanitor launches the periodic background task that prunes expired
// rate-limit timestamps and temporary blocks. Call Stop to terminate it.
func (f *Filter) StartJanitor(interval time.Duration) {
	f.janitorStop = make(chan struct{})
	f.janitorDone = make(chan struct{})
	go func() {
		defer close(f.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.runJanitorPass()
			case <-f.janitorStop:
				return
			}
		}
	}()
}

// Stop terminates the janitor goroutine, if running, and waits for it to
// exit.
func (f *Filter) Stop() {
	if f.janitorStop == nil {
		return
	}
	close(f.janitorStop)
	<-f.janitorDone
}

func (f *Filter) runJanitorPass() {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	for ip, times := range f.rateState {
		pruned := pruneOlder(times, now.Add(-f.cfg.Window))
		if len(pruned) == 0 {
			delete(f.rateState, ip)
		} else {
			f.rateState[ip] = pruned
		}
	}
	for ip, b := range f.temporaryBlocks {
		if now.After(b.blockedUntil) || now.Equal(b.blockedUntil) {
			delete(f.temporaryBlocks, ip)
		}
	}
}

// ShouldAllow runs the admission pipeline: whitelist short-circuit,
// permanent blocklist, temporary block, then (if enabled) the
// sliding-window rate limit. It mutates RateState and TemporaryBlock as a
// side effect when not whitelisted.
func (f *Filter) ShouldAllow(ip string) Decision {
	if ip == "" {
		return Decision{Allowed: false, Reason: "Invalid IP address"}
	}

	canonical := netutil.Normalize(ip)

	if f.isWhitelisted(canonical) {
		f.mu.Lock()
		f.stats.whitelisted++
		f.mu.Unlock()
		return Decision{Allowed: true, Whitelisted: true}
	}

	if f.isPermanentlyBlocked(canonical) {
		f.mu.Lock()
		f.stats.blocked++
		f.mu.Unlock()
		return Decision{Allowed: false, Reason: "IP in blocklist"}
	}

	if reason, blocked := f.isTemporarilyBlocked(canonical); blocked {
		f.mu.Lock()
		f.stats.blocked++
		f.mu.Unlock()
		return Decision{Allowed: false, Reason: reason}
	}

	if f.cfg.RateLimitEnabled {
		if reason, exceeded := f.recordAttemptAndCheck(canonical); exceeded {
			f.mu.Lock()
			f.stats.rateLimited++
			f.mu.Unlock()
			return Decision{Allowed: false, Reason: reason}
		}
	}

	f.mu.Lock()
	f.stats.allowed++
	f.mu.Unlock()
	return Decision{Allowed: true}
}

func (f *Filter) isWhitelisted(ip string) bool {
	if f.whitelistExact[ip] {
		return true
	}
	for _, entry := range f.whitelist {
		if entry.Kind == netutil.KindExact {
			continue // already checked via the exact-match index
		}
		if netutil.Matches(ip, entry) {
			return true
		}
	}
	return false
}

func (f *Filter) isPermanentlyBlocked(ip string) bool {
	if f.blocklistExact[ip] {
		return true
	}
	for _, entry := range f.blocklist {
		if entry.Kind == netutil.KindExact {
			continue
		}
		if netutil.Matches(ip, entry) {
			return true
		}
	}
	return false
}

func (f *Filter) isTemporarilyBlocked(ip string) (string, bool) {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.temporaryBlocks[ip]
	if !ok {
		return "", false
	}
	if now.After(b.blockedUntil) || now.Equal(b.blockedUntil) {
		delete(f.temporaryBlocks, ip)
		return "", false
	}
	return b.reason, true
}

// recordAttemptAndCheck appends now to ip's timestamp list, prunes entries
// older than the window, and blocks ip if the remaining count exceeds the
// configured maximum. The comparison is strict '>': exactly max attempts
// within the window is allowed, the (max+1)th triggers a block.
func (f *Filter) recordAttemptAndCheck(ip string) (string, bool) {
	now := time.Now()

	f.mu.Lock()
	times := append(f.rateState[ip], now)
	times = pruneOlder(times, now.Add(-f.cfg.Window))
	f.rateState[ip] = times
	count := len(times)
	f.mu.Unlock()

	if count > f.cfg.MaxConnectionsPerWindow {
		reason := fmt.Sprintf("Rate limit exceeded: %d in %dms", count, f.cfg.Window.Milliseconds())
		f.blockIP(ip, f.cfg.BlockDuration, reason)
		return "Rate limit exceeded", true
	}
	return "", false
}

// blockIP installs a temporary block for ip, to expire after duration. It
// also clears ip's rate-state timestamps: once the block lifts, the IP
// starts with a clean window rather than immediately re-tripping the limit
// on stale timestamps still inside the window.
func (f *Filter) blockIP(ip string, duration time.Duration, reason string) {
	now := time.Now()

	f.mu.Lock()
	f.temporaryBlocks[ip] = temporaryBlock{
		reason:       reason,
		blockedAt:    now,
		blockedUntil: now.Add(duration),
	}
	delete(f.rateState, ip)
	f.mu.Unlock()

	f.log.Warn("blocked ip", "ip", ip, "reason", reason, "duration_ms", duration.Milliseconds())
}

func pruneOlder(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Stats is an observability snapshot of admission outcomes since process
// start.
type Stats struct {
	Whitelisted uint64
	Blocked     uint64
	RateLimited uint64
	Allowed     uint64
}

// GetStats returns a point-in-time snapshot of admission outcome counts.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Whitelisted: f.stats.whitelisted,
		Blocked:     f.stats.blocked,
		RateLimited: f.stats.rateLimited,
		Allowed:     f.stats.allowed,
	}
}
