// Package udp implements the reference transport.Transport driver
// over net.UDPConn, grounded on the teacher's source/server/server.go
// Start/listen (ListenUDP bind, fixed-size read buffer, ReadFromUDP
// loop that copies out each datagram before handing it off).
package udp

import (
	"fmt"
	"net"

	"github.com/duskforge/netchan/pkg/transport"
)

// maxDatagramBytes bounds one recvfrom read. Larger than
// conn.MaxPacketBytes to tolerate a misbehaving peer without
// truncating a legitimate packet silently.
const maxDatagramBytes = 4096

// Driver is a net.UDPConn-backed transport.Transport.
type Driver struct {
	conn *net.UDPConn
	buf  []byte
}

var _ transport.Transport = (*Driver)(nil)

// Listen binds a UDP socket at addr (host:port), per the teacher's
// net.ListenUDP("udp", ...) pattern.
func Listen(addr string) (*Driver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %q: %w", addr, err)
	}
	return &Driver{conn: conn, buf: make([]byte, maxDatagramBytes)}, nil
}

// Dial connects a UDP socket to a fixed remote address, for client use.
func Dial(addr string) (*Driver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %q: %w", addr, err)
	}
	return &Driver{conn: conn, buf: make([]byte, maxDatagramBytes)}, nil
}

// RecvFrom blocks for the next datagram, copying it out of the
// driver's reusable buffer per the teacher's "make a copy of the
// data" comment in listen().
func (d *Driver) RecvFrom() (net.Addr, []byte, error) {
	n, addr, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return nil, nil, fmt.Errorf("udp: read: %w", err)
	}
	data := make([]byte, n)
	copy(data, d.buf[:n])
	return addr, data, nil
}

// Send writes to the peer a Dial'd Driver is already connected to.
// WriteToUDP refuses an explicit address on a connected socket, so
// callers that only ever Dial (never Listen) use this instead of
// SendTo.
func (d *Driver) Send(data []byte) error {
	_, err := d.conn.Write(data)
	if err != nil {
		return fmt.Errorf("udp: write: %w", err)
	}
	return nil
}

func (d *Driver) SendTo(addr net.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("udp: not a *net.UDPAddr: %T", addr)
	}
	_, err := d.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		return fmt.Errorf("udp: write: %w", err)
	}
	return nil
}

func (d *Driver) LocalAddr() net.Addr { return d.conn.LocalAddr() }
func (d *Driver) Close() error        { return d.conn.Close() }
