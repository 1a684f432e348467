// Package transport defines the external collaborator interface the
// connection core is driven through, per spec.md §1: the concrete
// socket driver is out of scope for the core but the core publishes
// the interface a driver implements.
package transport

import "net"

// Transport is a swappable datagram driver. server.Server and
// client.Client import neither this package nor a concrete driver: they
// take and return raw datagrams (keyed by net.Addr on the server), and
// the application wires a driver to them, so a WebTransport or Steam
// driver can substitute for pkg/transport/udp without touching the core.
type Transport interface {
	RecvFrom() (addr net.Addr, data []byte, err error)
	SendTo(addr net.Addr, data []byte) error
	LocalAddr() net.Addr
	Close() error
}
