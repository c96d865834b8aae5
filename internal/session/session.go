// Package session defines the per-connection Session record shared by both
// front-ends and the byte pump.
package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var seq uint64

// NextID returns a monotonic-plus-random session identifier: a process-wide
// sequence number followed by a random UUID suffix, so IDs are both
// orderable for logs and globally unique across restarts.
func NextID() string {
	n := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%d-%s", n, uuid.NewString())
}

// Encoding is the detected client character encoding.
type Encoding string

const (
	EncodingUTF8  Encoding = "utf8"
	EncodingCP437 Encoding = "cp437"
)

// Session records one admitted connection's identity and accounting.
// It is created on successful admission, mutated only by its owning byte
// pump, and considered terminated once EndReason is set.
type Session struct {
	ID           string
	ClientAddr   string
	BackendAddr  string
	Encoding     Encoding
	TerminalType string
	StartTime    time.Time

	// BytesClientToBackend and BytesBackendToClient are each written by
	// exactly one copy direction and are only meaningful to read after
	// both directions have terminated.
	BytesClientToBackend uint64
	BytesBackendToClient uint64

	EndReason string
}

// New creates a Session for an admitted connection.
func New(clientAddr, backendAddr string, enc Encoding, termType string) *Session {
	return &Session{
		ID:           NextID(),
		ClientAddr:   clientAddr,
		BackendAddr:  backendAddr,
		Encoding:     enc,
		TerminalType: termType,
		StartTime:    time.Now(),
	}
}
