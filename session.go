package rtpflow

import (
	"fmt"
	"net"
	"sync"

	"github.com/lanikai/rtpflow/internal/h26x"
)

// SessionOptions configures optional SRTP keying shared by every
// MediaStream the session mints.
//
// Grounded on the teacher's internal/rtp.SessionOptions (ReadKey/ReadSalt,
// WriteKey/WriteSalt), which kept per-direction master key material at the
// session level rather than per-stream.
type SessionOptions struct {
	// CNAME is this endpoint's RTCP canonical name. Defaults to
	// defaultCNAME() when empty. The session stores it; no packet this
	// package sends carries it, including the BYE sent on Close.
	CNAME string

	// SRTP master key material, used only by streams whose Flags include
	// SRTP. Leave nil to run that stream in plaintext RTP.
	SRTPReadKey, SRTPReadSalt   []byte
	SRTPWriteKey, SRTPWriteSalt []byte

	// SRTPNullCipher requests authentication without encryption (RFC 3711
	// section 4.1.3) for any stream with both SRTP and SRTPNullCipher set.
	SRTPNullCipher bool
}

// Format names a stream's RTP payload family, clock rate, and dynamic
// payload type.
type Format struct {
	Family      h26x.Family
	PayloadType uint8
	ClockRate   uint32
}

// Session is a factory for MediaStreams to one remote peer, per section 6:
// "session(remote_addr, local_addr?): factory for media_stream."
type Session struct {
	remoteHost string
	localHost  string
	opts       SessionOptions

	mu      sync.Mutex
	streams map[uint32]*MediaStream
}

func newSession(remoteHost, localHost string, opts SessionOptions) (*Session, error) {
	if opts.CNAME == "" {
		opts.CNAME = defaultCNAME()
	}
	return &Session{
		remoteHost: remoteHost,
		localHost:  localHost,
		opts:       opts,
		streams:    make(map[uint32]*MediaStream),
	}, nil
}

// NewMediaStream mints a MediaStream bound to srcPort locally and sending
// to dstPort on the session's remote host, carrying format and governed by
// flags. opts applies functional StreamOptions (payload size, ring-buffer
// size, max frame delay, buffer sizing) at construction time.
func (s *Session) NewMediaStream(srcPort, dstPort int, format Format, flags Flags, opts ...StreamOption) (*MediaStream, error) {
	ms, err := newMediaStream(s, srcPort, dstPort, format, flags, opts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.streams[ms.ssrc] = ms
	s.mu.Unlock()
	return ms, nil
}

// Close stops and releases every MediaStream the session minted.
func (s *Session) Close() error {
	s.mu.Lock()
	streams := make([]*MediaStream, 0, len(s.streams))
	for _, ms := range s.streams {
		streams = append(streams, ms)
	}
	s.streams = make(map[uint32]*MediaStream)
	s.mu.Unlock()

	var firstErr error
	for _, ms := range streams {
		if err := ms.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) localAddr(port int) string {
	return net.JoinHostPort(s.localHost, fmt.Sprintf("%d", port))
}

func (s *Session) remoteAddr(port int) string {
	return net.JoinHostPort(s.remoteHost, fmt.Sprintf("%d", port))
}
