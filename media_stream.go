package rtpflow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/framequeue"
	"github.com/lanikai/rtpflow/internal/h26x"
	"github.com/lanikai/rtpflow/internal/logging"
	"github.com/lanikai/rtpflow/internal/ring"
	"github.com/lanikai/rtpflow/internal/rtcpdemux"
	"github.com/lanikai/rtpflow/internal/rtcpstats"
	"github.com/lanikai/rtpflow/internal/rtpvalidate"
	"github.com/lanikai/rtpflow/internal/srtp"
	"github.com/lanikai/rtpflow/internal/transport"
	"github.com/lanikai/rtpflow/internal/wire"
	"github.com/lanikai/rtpflow/internal/zrtpdemux"
)

var log = logging.DefaultLogger.WithTag("rtpflow")

// Configuration defaults from section 6: MTU 1492 minus 20B IPv4 + 8B UDP +
// 12B RTP leaves 1452B of media payload; ring buffer 4 MiB; max-frame-delay
// 100ms.
const (
	defaultPayloadSize    = 1452
	defaultMaxFrameDelay  = 100 * time.Millisecond
	defaultRingBufferSize = 4 << 20
	pullFramePollInterval = time.Millisecond
	gcInterval            = 50 * time.Millisecond
)

// StreamOption configures a MediaStream at construction time -- the
// knobs configure_ctx can't change once the receiver/processor goroutines
// are already running (ring-buffer size, initial payload size, initial
// buffer sizes).
type StreamOption func(*mediaStreamConfig)

type mediaStreamConfig struct {
	payloadSize    int
	ringBufferSize int
	maxFrameDelay  time.Duration
	sendBufferSize int
	recvBufferSize int
}

// WithPayloadSize overrides the default 1452-byte RTP media payload size.
func WithPayloadSize(n int) StreamOption {
	return func(c *mediaStreamConfig) { c.payloadSize = n }
}

// WithRingBufferSize overrides the default 4 MiB receive ring buffer size.
func WithRingBufferSize(bytes int) StreamOption {
	return func(c *mediaStreamConfig) { c.ringBufferSize = bytes }
}

// WithMaxFrameDelay overrides the default 100ms fragment reorder window.
func WithMaxFrameDelay(d time.Duration) StreamOption {
	return func(c *mediaStreamConfig) { c.maxFrameDelay = d }
}

// WithSendBufferSize sets the kernel UDP send-buffer size.
func WithSendBufferSize(n int) StreamOption {
	return func(c *mediaStreamConfig) { c.sendBufferSize = n }
}

// WithRecvBufferSize sets the kernel UDP receive-buffer size.
func WithRecvBufferSize(n int) StreamOption {
	return func(c *mediaStreamConfig) { c.recvBufferSize = n }
}

// rocTracker extends each source's 16-bit sequence number into SRTP's
// 48-bit rolling index (RFC 3711 section 3.3.1), per-SSRC. Wrap detection
// follows appendix A's "big jump backward" heuristic: a new sequence
// number more than half the sequence space behind the last one seen is
// assumed to be a rollover, not 32 000 packets of reordering.
type rocTracker struct {
	mu   sync.Mutex
	roc  map[uint32]uint32
	last map[uint32]uint16
	seen map[uint32]bool
}

func newROCTracker() *rocTracker {
	return &rocTracker{
		roc:  make(map[uint32]uint32),
		last: make(map[uint32]uint16),
		seen: make(map[uint32]bool),
	}
}

func (t *rocTracker) extend(ssrc uint32, seq uint16) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[ssrc] {
		last := t.last[ssrc]
		if seq < last && last-seq > 0x8000 {
			t.roc[ssrc]++
		} else if seq > last && seq-last > 0x8000 && t.roc[ssrc] > 0 {
			t.roc[ssrc]--
		}
	}
	t.seen[ssrc] = true
	t.last[ssrc] = seq
	return uint64(t.roc[ssrc])<<16 | uint64(seq)
}

// MediaStream is one bidirectional RTP flow over a UDP socket pair, per
// section 6's media_stream(src_port, dst_port, format, flags). It wires
// internal/h26x's sender/receiver, internal/framequeue's send path, and
// internal/ring + internal/dispatch's receive path into one object
// matching push_frame / pull_frame / install_receive_hook / configure_ctx.
//
// Grounded on the teacher's internal/rtp.Stream, which held a similar
// rtpOut/rtpIn/rtcpOut/rtcpIn grouping; here the four are replaced by the
// frame queue (send), the ring+chain (receive), and the RTCP stats
// registry (both directions' accounting).
type MediaStream struct {
	session *Session
	format  Format
	flags   Flags
	ssrc    uint32

	conn   *transport.Conn
	remote *net.UDPAddr

	ringBuf   *ring.Buffer
	receiver  *ring.Receiver
	chain     *dispatch.Chain
	processor *dispatch.Processor

	sender *h26x.Sender
	recvr  *h26x.Receiver

	queue *framequeue.Queue
	stats *rtcpstats.Registry
	roc   *rocTracker

	fpsNumerator, fpsDenominator uint32

	readCtx, writeCtx *srtp.Context

	mu    sync.Mutex
	cond  chan struct{}
	deque []*wire.Frame
	hooks []func(*wire.Frame)

	cancel context.CancelFunc

	stopped int32
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func newMediaStream(session *Session, srcPort, dstPort int, format Format, flags Flags, opts []StreamOption) (*MediaStream, error) {
	cfg := mediaStreamConfig{
		payloadSize:    defaultPayloadSize,
		ringBufferSize: defaultRingBufferSize,
		maxFrameDelay:  defaultMaxFrameDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn, err := transport.Listen(session.localAddr(srcPort))
	if err != nil {
		return nil, wrapError(KindBindFailed, "media_stream", err)
	}
	if cfg.sendBufferSize > 0 {
		_ = conn.SetWriteBuffer(cfg.sendBufferSize)
	}
	if cfg.recvBufferSize > 0 {
		_ = conn.SetReadBuffer(cfg.recvBufferSize)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", session.remoteAddr(dstPort))
	if err != nil {
		conn.Close()
		return nil, wrapError(KindInvalidValue, "media_stream", err)
	}

	capability := h26x.CapabilityFor(format.Family)
	sender, err := h26x.NewSender(capability, cfg.payloadSize)
	if err != nil {
		conn.Close()
		return nil, wrapError(KindInvalidValue, "media_stream", err)
	}

	var recvOpts []h26x.ReceiverOption
	recvOpts = append(recvOpts, h26x.WithMaxFrameDelay(cfg.maxFrameDelay))
	if flags&H26xPrependStartCode != 0 {
		recvOpts = append(recvOpts, h26x.WithStartCodePrepend(true))
	}
	if flags&H26xDependencyEnforcement != 0 {
		recvOpts = append(recvOpts, h26x.WithIntraDelay(true))
	}
	recvr := h26x.NewReceiver(capability, recvOpts...)

	ringBuf := ring.NewBuffer(ring.SlotCountFor(cfg.ringBufferSize, cfg.payloadSize), cfg.payloadSize)

	ms := &MediaStream{
		session: session,
		format:  format,
		flags:   flags,
		ssrc:    randomSSRC(),
		conn:    conn,
		remote:  remoteAddr,
		ringBuf: ringBuf,
		sender:  sender,
		recvr:   recvr,
		roc:     newROCTracker(),
		cond:    make(chan struct{}, 1),
	}

	if flags&SRTP != 0 {
		nullCipher := flags&SRTPNullCipher != 0 || session.opts.SRTPNullCipher
		if session.opts.SRTPReadKey != nil {
			if nullCipher {
				ms.readCtx = srtp.NewNullCipherContext(session.opts.SRTPReadKey, session.opts.SRTPReadSalt)
			} else {
				ms.readCtx = srtp.NewContext(session.opts.SRTPReadKey, session.opts.SRTPReadSalt)
			}
		}
		if session.opts.SRTPWriteKey != nil {
			if nullCipher {
				ms.writeCtx = srtp.NewNullCipherContext(session.opts.SRTPWriteKey, session.opts.SRTPWriteSalt)
			} else {
				ms.writeCtx = srtp.NewContext(session.opts.SRTPWriteKey, session.opts.SRTPWriteSalt)
			}
		}
	}

	ms.stats = rtcpstats.NewRegistry(format.ClockRate)

	chain := dispatch.NewChain()
	if flags&RTCPMux != 0 {
		chain.Install(0, rtcpdemux.New())
	}
	chain.Install(0, zrtpdemux.New(nil))
	if ms.readCtx != nil {
		chain.Install(0, srtp.NewHandler(ms.readCtx, ms.roc.extend))
	}
	chain.Install(0, rtpvalidate.New())
	chain.Install(0, ms.stats)
	chain.Install(0, h26x.NewHandler(recvr))
	ms.chain = chain

	ms.processor = dispatch.NewProcessor(ringBuf, chain, ms.deliver)
	ms.receiver = ring.NewReceiver(conn, ringBuf)

	qcfg := framequeue.Config{
		SSRC:               ms.ssrc,
		PayloadType:        format.PayloadType,
		AuthTagPlaceholder: flags&SRTPAuthenticate != 0,
		SRTP:               ms.writeCtx,
		FrameRatePacing:    flags&FrameRatePacing != 0,
		FragmentPacing:     flags&PaceFragmentSending != 0,
	}
	if flags&SyscallClustering != 0 {
		qcfg.ClusterSize = 8
	}
	ms.queue = framequeue.New(conn, remoteAddr, qcfg)

	ctx, cancel := context.WithCancel(context.Background())
	ms.cancel = cancel

	go ms.runReceiver(ctx)
	go ms.processor.Run(ctx)
	go ms.runGC(ctx)

	return ms, nil
}

func (ms *MediaStream) runReceiver(ctx context.Context) {
	if err := ms.receiver.Run(ctx); err != nil {
		atomic.StoreInt32(&ms.stopped, 1)
		log.Error("receiver for ssrc %d stopped: %v", ms.ssrc, err)
	}
}

// runGC periodically sweeps the H26x receiver's fragment store for
// in-flight records older than max-frame-delay, per section 4.7 step 9.
// Nothing else in the live pipeline drives this; the ring/dispatch path
// only runs in response to arriving packets, and a sender that stops
// mid-frame would otherwise leave that frame's fragments parked forever.
func (ms *MediaStream) runGC(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ms.recvr.GC(now)
		}
	}
}

// PushFrame implements push_frame: fragment frame per the H26x sender's
// rules and flush the resulting transaction through the frame queue.
func (ms *MediaStream) PushFrame(ctx context.Context, frame []byte, timestamp uint32, flags PushFlags) error {
	if atomic.LoadInt32(&ms.stopped) != 0 {
		return ErrNotInitialized
	}
	if flags&CopyInput != 0 {
		frame = append([]byte(nil), frame...)
	}

	var sendFlags h26x.PushFlags
	if flags&NoStartCodeScan != 0 {
		sendFlags |= h26x.NoStartCodeScan
	}

	packets, err := ms.sender.BuildPackets(frame, sendFlags)
	if err != nil {
		return wrapError(KindInvalidValue, "push_frame", err)
	}

	txn := ms.queue.InitTransaction(timestamp)
	for _, p := range packets {
		if err := txn.EnqueueMessage(p.Payload); err != nil {
			return wrapError(KindSendFailed, "push_frame", err)
		}
	}
	if _, err := txn.Flush(ctx); err != nil {
		return wrapError(KindSendFailed, "push_frame", err)
	}
	return nil
}

// PullFrame implements pull_frame(timeout): poll the delivery deque at 1ms
// granularity, per section 5, until timeout or arrival.
func (ms *MediaStream) PullFrame(timeout time.Duration) (*wire.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		ms.mu.Lock()
		if len(ms.deque) > 0 {
			f := ms.deque[0]
			ms.deque = ms.deque[1:]
			ms.mu.Unlock()
			return f, nil
		}
		ms.mu.Unlock()

		if atomic.LoadInt32(&ms.stopped) != 0 {
			return nil, ErrNotInitialized
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(pullFramePollInterval)
	}
}

// InstallReceiveHook registers fn to be called with every completed frame,
// in delivery order, from the processor goroutine. While any hook is
// installed, completed frames go to the hooks only and are not queued for
// PullFrame.
func (ms *MediaStream) InstallReceiveHook(fn func(*wire.Frame)) {
	ms.mu.Lock()
	ms.hooks = append(ms.hooks, fn)
	ms.mu.Unlock()
}

func (ms *MediaStream) deliver(ssrc uint32, frame *wire.Frame) {
	ms.mu.Lock()
	hooks := ms.hooks
	if len(hooks) == 0 {
		ms.deque = append(ms.deque, frame)
	}
	ms.mu.Unlock()

	for _, fn := range hooks {
		fn(frame)
	}
}

// Configure implements configure_ctx for the options that remain mutable
// once the stream's receiver/processor goroutines are running. The
// ring-buffer size is fixed at construction and returns a KindNotReady
// error naming WithRingBufferSize; the remote SSRC filter also returns
// KindNotReady.
func (ms *MediaStream) Configure(option ConfigOption, value interface{}) error {
	switch option {
	case OptSendBufferSize:
		n, ok := value.(int)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		return wrapError(KindSocketFailed, "configure_ctx", ms.conn.SetWriteBuffer(n))
	case OptRecvBufferSize:
		n, ok := value.(int)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		return wrapError(KindSocketFailed, "configure_ctx", ms.conn.SetReadBuffer(n))
	case OptPayloadSize:
		n, ok := value.(int)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		if err := ms.sender.SetPayloadBudget(n); err != nil {
			return wrapError(KindInvalidValue, "configure_ctx", err)
		}
		return nil
	case OptMaxFrameDelay:
		d, ok := value.(time.Duration)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		ms.recvr.SetMaxFrameDelay(d)
		return nil
	case OptFPSNumerator:
		n, ok := value.(uint32)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		ms.fpsNumerator = n
		ms.queue.SetFPS(ms.fpsNumerator, ms.fpsDenominator)
		return nil
	case OptFPSDenominator:
		n, ok := value.(uint32)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		ms.fpsDenominator = n
		ms.queue.SetFPS(ms.fpsNumerator, ms.fpsDenominator)
		return nil
	case OptFrameRatePacing:
		b, ok := value.(bool)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		ms.queue.SetFrameRatePacing(b)
		return nil
	case OptFragmentPacing:
		b, ok := value.(bool)
		if !ok {
			return newError(KindInvalidValue, "configure_ctx")
		}
		ms.queue.SetFragmentPacing(b)
		return nil
	case OptRingBufferSize:
		return newError(KindNotReady, "configure_ctx: ring-buffer size is fixed at construction; use WithRingBufferSize")
	case OptRemoteSSRCFilter:
		return newError(KindNotReady, "configure_ctx: remote SSRC filter is not yet mutable post-construction")
	default:
		return newError(KindInvalidValue, "configure_ctx")
	}
}

// Close implements section 5's shutdown sequence: emit a BYE, stop the
// receiver/processor goroutines, and release the socket.
func (ms *MediaStream) Close() error {
	bye := rtcpstats.BuildGoodbye(ms.ssrc, "stream closed")
	if raw, err := bye.Marshal(); err == nil {
		msgs := []transport.Message{{Buffers: [][]byte{raw}, Addr: ms.remote}}
		if _, err := ms.conn.WriteBatch(msgs); err != nil {
			log.Debug("send BYE for ssrc %d: %v", ms.ssrc, err)
		}
	}

	ms.cancel()
	return ms.conn.Close()
}
