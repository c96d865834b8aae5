// Package geoip resolves client addresses to ISO-3166-1 alpha-2 country
// codes and applies the blocked-country policy. A missing database fails
// open and never denies a connection, since geolocation is an extra layer
// on top of the whitelist and blocklist, not a replacement for them. With
// a database loaded, a lookup miss denies only when blockUnknown is set.
package geoip

import (
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"github.com/ryanfantus/bbsfw/internal/logging"
)

// Filter wraps an optional MaxMind country database. A Filter with no
// database loaded (DBPath empty, or the file failed to open) always
// reports a connection as unblocked.
type Filter struct {
	log *logging.Logger

	mu sync.RWMutex
	db *geoip2.Reader
}

// New opens the database at dbPath, if non-empty. A missing or corrupt
// database is logged and treated as "no database loaded" rather than a
// fatal condition, since geo-filtering is an optional layer.
func New(dbPath string) *Filter {
	f := &Filter{log: logging.Default().WithComponent("geoip")}

	if dbPath == "" {
		return f
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		f.log.Warn("failed to open geoip database, geo-filtering disabled", "path", dbPath, "error", err)
		return f
	}
	f.db = db
	return f
}

// Close releases the underlying database, if one was loaded.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}

// CountryCode returns the ISO-3166-1 alpha-2 code for ip, or "" if no
// database is loaded, the address fails to parse, or the lookup misses.
func (f *Filter) CountryCode(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	f.mu.RLock()
	db := f.db
	f.mu.RUnlock()
	if db == nil {
		return ""
	}

	record, err := db.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

// IsBlocked reports whether ip should be denied under the blocked-country
// policy. blockedCountries holds upper-cased ISO alpha-2 codes. A missing
// database always fails open regardless of blockUnknown; only a loaded
// database's unresolved lookup is judged by blockUnknown.
func (f *Filter) IsBlocked(ip string, blockedCountries map[string]bool, blockUnknown bool) bool {
	if !f.Loaded() {
		return false
	}
	code := f.CountryCode(ip)
	if code == "" {
		return blockUnknown
	}
	return blockedCountries[strings.ToUpper(code)]
}

// Loaded reports whether a database is currently open.
func (f *Filter) Loaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.db != nil
}
