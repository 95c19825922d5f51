// Package transport implements the platform socket abstraction section 9's
// design notes call for: "a thin platform abstraction with two methods:
// poll_read(timeout) -> Ready|Timeout|Error and send_batch(...) ->
// bytes_sent|Error." It replaces the original's WSAPoll/poll and
// sendmmsg/WSASendTo splits with one Conn type backed by
// golang.org/x/net/ipv4 or ipv6's batch I/O (the teacher's internal/ice
// only ever sends one packet at a time over net.PacketConn; this module's
// ring buffer receiver and frame queue both need to move many datagrams
// per syscall, so the batch-capable x/net packages replace net.PacketConn
// here).
package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/xerrors"
)

// Message is one scatter-gather UDP datagram: Buffers are concatenated on
// send and, on receive, the first N bytes across Buffers hold the payload
// actually read. Addr is the peer address (destination on send, source on
// receive).
type Message struct {
	Buffers [][]byte
	Addr    net.Addr
	N       int
}

// Conn wraps a UDP socket with batched reads/writes and a PollRead
// primitive, choosing the IPv4 or IPv6 control-message path based on the
// bound address family.
type Conn struct {
	pc  *net.UDPConn
	v4  *ipv4.PacketConn
	v6  *ipv6.PacketConn
	fam string
}

// Listen opens a UDP socket on addr (host:port, or just :port for any
// interface) and wraps it for batched I/O.
func Listen(addr string) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, xerrors.Errorf("transport: resolve %q: %w", addr, err)
	}
	pc, err := net.ListenUDP(udpAddr.Network(), udpAddr)
	if err != nil {
		return nil, xerrors.Errorf("transport: listen %q: %w", addr, err)
	}
	return wrap(pc, udpAddr.IP.To4() != nil), nil
}

func wrap(pc *net.UDPConn, isV4 bool) *Conn {
	c := &Conn{pc: pc}
	if isV4 {
		c.v4 = ipv4.NewPacketConn(pc)
		c.fam = "udp4"
	} else {
		c.v6 = ipv6.NewPacketConn(pc)
		c.fam = "udp6"
	}
	return c
}

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

// SetReadBuffer and SetWriteBuffer size the kernel socket buffers, per
// section 6's configure_ctx UDP send/recv buffer size option.
func (c *Conn) SetReadBuffer(bytes int) error  { return c.pc.SetReadBuffer(bytes) }
func (c *Conn) SetWriteBuffer(bytes int) error { return c.pc.SetWriteBuffer(bytes) }

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.pc.Close() }

// WriteBatch implements the send_batch primitive: it writes as many
// messages as the platform will accept in one syscall (sendmmsg on Linux;
// x/net falls back to a tight loop of WriteTo where sendmmsg is
// unavailable), returning the count actually sent.
func (c *Conn) WriteBatch(msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	if c.v4 != nil {
		raw := make([]ipv4.Message, len(msgs))
		for i, m := range msgs {
			raw[i].Buffers = m.Buffers
			raw[i].Addr = m.Addr
		}
		n, err := c.v4.WriteBatch(raw, 0)
		return n, wrapErr(err)
	}
	raw := make([]ipv6.Message, len(msgs))
	for i, m := range msgs {
		raw[i].Buffers = m.Buffers
		raw[i].Addr = m.Addr
	}
	n, err := c.v6.WriteBatch(raw, 0)
	return n, wrapErr(err)
}

// ReadBatch fills msgs (whose Buffers must already be sized) with as many
// datagrams as are immediately available, up to len(msgs), setting N and
// Addr on each filled entry. It blocks until at least one datagram arrives
// or the socket's read deadline (set by the caller via PollRead's
// timeout convention) expires.
func (c *Conn) ReadBatch(msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	if c.v4 != nil {
		raw := make([]ipv4.Message, len(msgs))
		for i, m := range msgs {
			raw[i].Buffers = m.Buffers
		}
		n, err := c.v4.ReadBatch(raw, 0)
		if err != nil {
			return 0, wrapErr(err)
		}
		for i := 0; i < n; i++ {
			msgs[i].N = raw[i].N
			msgs[i].Addr = raw[i].Addr
		}
		return n, nil
	}
	raw := make([]ipv6.Message, len(msgs))
	for i, m := range msgs {
		raw[i].Buffers = m.Buffers
	}
	n, err := c.v6.ReadBatch(raw, 0)
	if err != nil {
		return 0, wrapErr(err)
	}
	for i := 0; i < n; i++ {
		msgs[i].N = raw[i].N
		msgs[i].Addr = raw[i].Addr
	}
	return n, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("transport: %w", err)
}
