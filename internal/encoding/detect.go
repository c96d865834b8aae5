// Package encoding derives the client's character encoding from SSH
// environment hints and terminal-type strings, and maps that encoding to a
// backend port.
package encoding

import (
	"strings"

	"github.com/ryanfantus/bbsfw/internal/session"
)

// utf8TermTypes are terminal types known to default to UTF-8 rendering.
var utf8TermTypes = []string{
	"xterm", "xterm-color", "xterm-256color", "screen", "screen-256color",
	"rxvt-unicode", "konsole", "gnome", "linux", "vt220", "vt100",
}

// cp437TermTypes are terminal types associated with legacy ANSI/BBS clients
// that render IBM code page 437.
var cp437TermTypes = []string{
	"ansi", "ansi-bbs", "ansi-mono", "ansi-color", "pcansi", "scoansi",
}

// envKeys are scanned, in order, for a UTF-8 locale hint. The first match
// wins; env as a whole takes priority over TermType.
var envKeys = []string{"LANG", "LC_ALL", "LC_CTYPE"}

// Detect returns utf8 or cp437 for the given SSH environment and terminal
// type. env maps variable name to value exactly as presented by the client
// (case of the key is expected to already match envKeys).
func Detect(env map[string]string, termType string) session.Encoding {
	for _, key := range envKeys {
		v, ok := env[key]
		if !ok || v == "" {
			continue
		}
		upper := strings.ToUpper(v)
		if strings.Contains(upper, "UTF-8") || strings.Contains(upper, "UTF8") {
			return session.EncodingUTF8
		}
	}

	return detectFromTermType(termType)
}

func detectFromTermType(termType string) session.Encoding {
	lower := strings.ToLower(termType)
	if lower == "" {
		return session.EncodingCP437
	}

	for _, known := range utf8TermTypes {
		if strings.Contains(lower, known) {
			return session.EncodingUTF8
		}
	}
	for _, known := range cp437TermTypes {
		if strings.Contains(lower, known) {
			return session.EncodingCP437
		}
	}
	return session.EncodingCP437
}

// PortConfig is the subset of configuration BackendPort needs.
type PortConfig struct {
	DetectionEnabled bool
	DefaultPort      int
	UTF8Port         int
	CP437Port        int
}

// BackendPort selects the backend TCP port for enc. When encoding
// detection is disabled, the default port is always used regardless of
// the detected encoding.
func BackendPort(enc session.Encoding, cfg PortConfig) int {
	if !cfg.DetectionEnabled {
		return cfg.DefaultPort
	}
	if enc == session.EncodingUTF8 {
		return cfg.UTF8Port
	}
	return cfg.CP437Port
}
