// Package events defines the server/client event queue types from
// spec.md §6.1, grounded on the teacher's core/events/events.go
// EventType/Event shape but trimmed to the two variants the spec
// names and switched from push (handler registration) to pull
// (GetEvent drains a queue), per spec.md §6.1's literal API.
package events

import "github.com/duskforge/netchan/pkg/neterr"

// DisconnectReason is the user-visible union from spec.md §7.
type DisconnectReason int

const (
	ReasonTimeout DisconnectReason = iota
	ReasonDisconnectedByServer
	ReasonDisconnectedByClient
	ReasonConnectionTokenExpired
	ReasonConnectionDenied
	ReasonChannelSendBufferFull
	ReasonInvalidToken
	ReasonServerFull
	ReasonInternal
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "Timeout"
	case ReasonDisconnectedByServer:
		return "DisconnectedByServer"
	case ReasonDisconnectedByClient:
		return "DisconnectedByClient"
	case ReasonConnectionTokenExpired:
		return "ConnectionTokenExpired"
	case ReasonConnectionDenied:
		return "ConnectionDenied"
	case ReasonChannelSendBufferFull:
		return "ChannelSendBufferFull"
	case ReasonInvalidToken:
		return "InvalidToken"
	case ReasonServerFull:
		return "ServerFull"
	case ReasonInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Kind distinguishes the two event variants spec.md §6.1 names.
type Kind int

const (
	KindClientConnected Kind = iota
	KindClientDisconnected
)

// Event is the tagged union the server's event queue yields.
type Event struct {
	Kind     Kind
	ClientID uint64
	Reason   DisconnectReason // only meaningful when Kind == KindClientDisconnected
}

func Connected(clientID uint64) Event {
	return Event{Kind: KindClientConnected, ClientID: clientID}
}

func Disconnected(clientID uint64, reason DisconnectReason) Event {
	return Event{Kind: KindClientDisconnected, ClientID: clientID, Reason: reason}
}

// ErrorKindToReason maps an internal error taxonomy kind to the
// DisconnectReason surfaced to the application, per spec.md §7's
// propagation policy ("errors that invalidate a connection become
// DisconnectReasons surfaced via events").
func ErrorKindToReason(k neterr.Kind) DisconnectReason {
	switch k {
	case neterr.KindCapacity:
		return ReasonChannelSendBufferFull
	case neterr.KindAuth:
		return ReasonInvalidToken
	case neterr.KindFatal:
		return ReasonInternal
	default:
		return ReasonInternal
	}
}
