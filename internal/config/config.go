// Package config loads and validates bbsgate's environment-variable
// configuration. There is no file-based schema to parse.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the fully validated runtime configuration for one bbsgate
// process.
type Config struct {
	// ListenPort is the TCP front-end port.
	// @default: 23
	ListenPort int

	// BackendHost is the backend BBS host dialed for every admitted session.
	// @default: 127.0.0.1
	BackendHost string
	// BackendPort is the default backend port, used when encoding
	// detection is disabled.
	// @default: 2323
	BackendPort int
	// BackendPortUTF8 and BackendPortCP437 are the encoding-specific
	// backend ports used when detection is enabled.
	BackendPortUTF8  int
	BackendPortCP437 int

	// MaxConnections is the global cap on simultaneously admitted sessions.
	// @default: 100
	MaxConnections int
	// ConnectionTimeoutMS is the idle timeout in milliseconds; 0 disables it.
	// @default: 300000
	ConnectionTimeoutMS int

	// BlockedCountries is a set of ISO-3166-1 alpha-2 codes, upper-cased.
	BlockedCountries map[string]bool
	// BlockUnknownCountries blocks peers whose country cannot be determined.
	BlockUnknownCountries bool
	GeoDBPath             string

	BlocklistPath string
	WhitelistPath string

	RateLimitEnabled         bool
	MaxConnectionsPerWindow  int
	RateLimitWindowMS        int
	RateLimitBlockDurationMS int

	SSHEnabled    bool
	SSHListenPort int
	SSHHostKey    string
	SSHCiphers    []string

	LogLevel string
}

// legacyFriendlyCiphers is the default SSH cipher list, ordered to favor
// wide client compatibility with legacy BBS terminal programs over modern
// security posture.
var legacyFriendlyCiphers = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
	"3des-cbc", "aes128-cbc",
}

// Load reads configuration from the environment, applies defaults for
// every unset variable, and returns an error joining every validation
// failure found (see Validate).
func Load() (*Config, error) {
	cfg := &Config{
		ListenPort:               envInt("LISTEN_PORT", 23),
		BackendHost:               envString("BACKEND_HOST", "127.0.0.1"),
		BackendPort:               envInt("BACKEND_PORT", 2323),
		MaxConnections:            envInt("MAX_CONNECTIONS", 100),
		ConnectionTimeoutMS:       envInt("CONNECTION_TIMEOUT", 300000),
		BlockedCountries:          envCountrySet("BLOCKED_COUNTRIES"),
		BlockUnknownCountries:     envBool("BLOCK_UNKNOWN_COUNTRIES", false),
		GeoDBPath:                 envString("GEOIP_DB_PATH", ""),
		BlocklistPath:             envString("BLOCKLIST_PATH", ""),
		WhitelistPath:             envString("WHITELIST_PATH", ""),
		RateLimitEnabled:          envBool("RATE_LIMIT_ENABLED", true),
		MaxConnectionsPerWindow:   envInt("MAX_CONNECTIONS_PER_WINDOW", 10),
		RateLimitWindowMS:         envInt("RATE_LIMIT_WINDOW_MS", 60000),
		RateLimitBlockDurationMS:  envInt("RATE_LIMIT_BLOCK_DURATION_MS", 300000),
		SSHEnabled:                envBool("SSH_ENABLED", false),
		SSHListenPort:             envInt("SSH_LISTEN_PORT", 2222),
		SSHHostKey:                envString("SSH_HOST_KEY", "./ssh_host_key"),
		SSHCiphers:                envCSV("SSH_CIPHERS", legacyFriendlyCiphers),
		LogLevel:                  envString("LOG_LEVEL", "info"),
	}
	cfg.BackendPortUTF8 = envInt("BACKEND_PORT_UTF8", cfg.BackendPort)
	cfg.BackendPortCP437 = envInt("BACKEND_PORT_CP437", cfg.BackendPort)

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every ValidationError found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks cfg's port ranges, rate-limit bounds, and required host
// and returns every violation found (empty when cfg is valid).
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	checkPort := func(field string, port int) {
		if port < 1 || port > 65535 {
			errs = append(errs, ValidationError{field, fmt.Sprintf("must be 1..65535, got %d", port)})
		}
	}
	checkPort("LISTEN_PORT", cfg.ListenPort)
	checkPort("BACKEND_PORT", cfg.BackendPort)
	if cfg.SSHEnabled {
		checkPort("SSH_LISTEN_PORT", cfg.SSHListenPort)
	}

	if cfg.BackendHost == "" {
		errs = append(errs, ValidationError{"BACKEND_HOST", "must not be empty"})
	}
	if cfg.MaxConnectionsPerWindow < 1 {
		errs = append(errs, ValidationError{"MAX_CONNECTIONS_PER_WINDOW", "must be >= 1"})
	}
	if cfg.RateLimitWindowMS < 1000 {
		errs = append(errs, ValidationError{"RATE_LIMIT_WINDOW_MS", "must be >= 1000"})
	}
	if cfg.MaxConnections < 1 {
		errs = append(errs, ValidationError{"MAX_CONNECTIONS", "must be >= 1"})
	}
	if cfg.SSHEnabled && cfg.SSHHostKey == "" {
		errs = append(errs, ValidationError{"SSH_HOST_KEY", "must be set when SSH_ENABLED is true"})
	}

	return errs
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envCSV(name string, def []string) []string {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envCountrySet(name string) map[string]bool {
	set := make(map[string]bool)
	for _, code := range envCSV(name, nil) {
		set[strings.ToUpper(code)] = true
	}
	return set
}
