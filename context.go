// Package rtpflow is the public facade: a user-space RTP/RTCP library for
// carrying fragmented H.264/H.265/H.266/V3C video over UDP, with optional
// SRTP confidentiality/authentication and a ZRTP demux slot for external
// key agreement.
//
// Context, Session, and MediaStream implement section 6's external
// interface: Context is process-wide init/teardown and a Session factory;
// Session binds a remote/local host pair and mints MediaStreams; each
// MediaStream owns one UDP socket pair (src_port/dst_port) and wires
// together the ring buffer, handler chain, H26x sender/receiver, frame
// queue, and RTCP stats sidecar built in internal/.
//
// Grounded on the teacher's internal/rtp.Session/Stream split
// (internal/rtp/session.go, internal/rtp/stream.go): this package keeps
// that two-level factory shape (one Session per remote peer, many Streams
// keyed by SSRC) but replaces the teacher's DTLS-oriented construction
// with the spec's address-based, flag-driven one.
package rtpflow

// Context is the process-wide entry point and Session factory. It carries
// no required state today; it exists so the API has a stable place to add
// process-wide resources (a shared worker pool, a metrics registry) later
// without changing every call site.
type Context struct{}

// NewContext constructs a Context.
func NewContext() *Context {
	return &Context{}
}

// Close releases process-wide resources. Safe to call multiple times.
func (c *Context) Close() error { return nil }

// NewSession opens a session to remoteHost, optionally binding to
// localHost (empty binds to all interfaces). remoteHost/localHost are bare
// hosts, not host:port -- each MediaStream supplies its own port pair.
func (c *Context) NewSession(remoteHost, localHost string, opts SessionOptions) (*Session, error) {
	return newSession(remoteHost, localHost, opts)
}
