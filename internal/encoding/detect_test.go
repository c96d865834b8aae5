package encoding

import (
	"testing"

	"github.com/ryanfantus/bbsfw/internal/session"
)

func TestDetectFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want session.Encoding
	}{
		{"lang utf8", map[string]string{"LANG": "en_US.UTF-8"}, session.EncodingUTF8},
		{"lc_all utf8 lowercase suffix", map[string]string{"LC_ALL": "en_US.utf8"}, session.EncodingUTF8},
		{"lc_ctype checked after others", map[string]string{"LC_CTYPE": "C.UTF-8"}, session.EncodingUTF8},
		{"empty env falls through", map[string]string{}, session.EncodingCP437},
		{"non-utf8 lang falls through", map[string]string{"LANG": "C"}, session.EncodingCP437},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.env, ""); got != tc.want {
				t.Errorf("Detect(%v, \"\") = %v, want %v", tc.env, got, tc.want)
			}
		})
	}
}

func TestDetectEnvWinsOverTermType(t *testing.T) {
	env := map[string]string{"LANG": "en_US.UTF-8"}
	if got := Detect(env, "ansi-bbs"); got != session.EncodingUTF8 {
		t.Errorf("env hint should win over term type, got %v", got)
	}
}

func TestDetectFromTermType(t *testing.T) {
	tests := []struct {
		term string
		want session.Encoding
	}{
		{"xterm-256color", session.EncodingUTF8},
		{"screen", session.EncodingUTF8},
		{"vt100", session.EncodingUTF8},
		{"ansi", session.EncodingCP437},
		{"ansi-bbs", session.EncodingCP437},
		{"pcansi", session.EncodingCP437},
		{"", session.EncodingCP437},
		{"totally-unknown", session.EncodingCP437},
	}
	for _, tc := range tests {
		if got := Detect(nil, tc.term); got != tc.want {
			t.Errorf("Detect(nil, %q) = %v, want %v", tc.term, got, tc.want)
		}
	}
}

func TestBackendPort(t *testing.T) {
	cfg := PortConfig{
		DetectionEnabled: true,
		DefaultPort:      2323,
		UTF8Port:         2324,
		CP437Port:        2325,
	}
	if got := BackendPort(session.EncodingUTF8, cfg); got != 2324 {
		t.Errorf("utf8 port = %d, want 2324", got)
	}
	if got := BackendPort(session.EncodingCP437, cfg); got != 2325 {
		t.Errorf("cp437 port = %d, want 2325", got)
	}

	cfg.DetectionEnabled = false
	if got := BackendPort(session.EncodingUTF8, cfg); got != 2323 {
		t.Errorf("disabled detection should use default port, got %d", got)
	}
}
