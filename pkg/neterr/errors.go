// Package neterr defines the semantic error taxonomy from spec.md §7:
// errors the core classifies into a handful of kinds so callers can
// branch on Kind() rather than matching strings.
package neterr

import "fmt"

// Kind is one of the taxonomy buckets from spec.md §7.
type Kind int

const (
	// KindProtocol: malformed packet, bad version, bad protocol_id,
	// packet-too-small. Local recovery: drop packet.
	KindProtocol Kind = iota
	// KindAuth: decryption/HMAC failure, expired token, wrong server
	// address. Local recovery: drop; on handshake path, ConnectionDenied.
	KindAuth
	// KindCapacity: server full, channel over-budget. Surfaced as a
	// Disconnect with a specific reason.
	KindCapacity
	// KindTransport: send failed at the driver. Counted, non-fatal.
	KindTransport
	// KindFatal: invariant violated. Connection torn down, reason
	// Internal.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindCapacity:
		return "capacity"
	case KindTransport:
		return "transport"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a taxonomy Kind.
type Error struct {
	kind  Kind
	cause error
}

func New(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func Protocol(cause error) *Error  { return New(KindProtocol, cause) }
func Auth(cause error) *Error      { return New(KindAuth, cause) }
func Capacity(cause error) *Error  { return New(KindCapacity, cause) }
func Transport(cause error) *Error { return New(KindTransport, cause) }
func Fatal(cause error) *Error     { return New(KindFatal, cause) }
