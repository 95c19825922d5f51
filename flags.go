package rtpflow

// Flags is the reception-chain bitset section 6 enumerates, passed to
// MediaStream at construction to decide which handlers get installed in
// its dispatch chain.
type Flags uint32

const (
	// RTCPMux enables the RTCP-on-the-same-port demultiplexer (RFC 5761).
	RTCPMux Flags = 1 << iota

	// SRTP enables SRTP decryption/encryption on the stream.
	SRTP

	// SRTPNullCipher pairs with SRTP to authenticate without encrypting
	// (srtp.NewNullCipherContext).
	SRTPNullCipher

	// SRTPAuthenticate reserves wire space for an authentication tag even
	// before an SRTP context is wired (see internal/framequeue's
	// AuthTagPlaceholder).
	SRTPAuthenticate

	// H26xDependencyEnforcement enables discard-until-intra: once a
	// reference-chain gap is detected, inter frames are dropped until the
	// next intra frame.
	H26xDependencyEnforcement

	// H26xPrependStartCode has the receiver prepend an Annex B start code
	// to every reconstructed NAL unit.
	H26xPrependStartCode

	// H26xIntraDelay names the intra-delay policy. newMediaStream does not
	// read this bit: setting it installs no handler or receiver option, and
	// inter frames are not withheld while an intra frame is incomplete. The
	// discard-until-intra latch is enabled by H26xDependencyEnforcement.
	H26xIntraDelay

	// FragmentGenericFrames names generic (non-H26x) fragmentation.
	// newMediaStream does not read this bit: pushed frames are always
	// classified and fragmented by the H26x sender.
	FragmentGenericFrames

	// SyscallClustering caps how many packets go out per send_batch call
	// (internal/framequeue.Config.ClusterSize) instead of one call per
	// transaction.
	SyscallClustering

	// FrameRatePacing blocks flush until the next frame's scheduled send
	// time.
	FrameRatePacing

	// PaceFragmentSending spreads one frame's packets across 80% of the
	// frame interval instead of sending the whole burst at once.
	PaceFragmentSending
)

// PushFlags are the per-push flags accepted by MediaStream.PushFrame.
type PushFlags uint32

const (
	// NoStartCodeScan asserts the caller has already stripped Annex B
	// start codes and is handing over exactly one NAL unit.
	NoStartCodeScan PushFlags = 1 << iota

	// CopyInput has the library take an owned copy of the pushed buffer
	// instead of retaining the caller's slice.
	CopyInput
)

// ConfigOption names one configure_ctx tunable from section 6.
type ConfigOption int

const (
	OptSendBufferSize ConfigOption = iota
	OptRecvBufferSize
	OptRingBufferSize
	OptPayloadSize
	OptMaxFrameDelay
	OptRemoteSSRCFilter
	OptFPSNumerator
	OptFPSDenominator
	OptFrameRatePacing
	OptFragmentPacing
)
