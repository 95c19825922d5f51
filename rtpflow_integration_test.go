package rtpflow

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lanikai/rtpflow/internal/h26x"
	"github.com/lanikai/rtpflow/internal/packet"
	"github.com/lanikai/rtpflow/internal/wire"
)

// loopbackPair opens a sending and a receiving MediaStream on localhost,
// each addressed at the other, matching the teacher's internal/mux and
// internal/srtp tests' preference for real loopback sockets over mocks.
func loopbackPair(t *testing.T, sendPort, recvPort int, format Format, flags Flags, opts ...StreamOption) (send, recv *MediaStream, cleanup func()) {
	t.Helper()

	ctx := NewContext()
	sendSession, err := ctx.NewSession("127.0.0.1", "127.0.0.1", SessionOptions{})
	if err != nil {
		t.Fatalf("new send session: %v", err)
	}
	recvSession, err := ctx.NewSession("127.0.0.1", "127.0.0.1", SessionOptions{})
	if err != nil {
		t.Fatalf("new recv session: %v", err)
	}

	recv, err = recvSession.NewMediaStream(recvPort, sendPort, format, flags, opts...)
	if err != nil {
		t.Fatalf("new recv stream: %v", err)
	}
	send, err = sendSession.NewMediaStream(sendPort, recvPort, format, flags, opts...)
	if err != nil {
		recv.Close()
		t.Fatalf("new send stream: %v", err)
	}

	return send, recv, func() {
		send.Close()
		recv.Close()
	}
}

var h264Format = Format{Family: h26x.H264, PayloadType: 96, ClockRate: 90000}

// S1 — single-packet I-frame: a NAL small enough for one RTP packet is
// delivered whole, with its Annex B start code already stripped by
// push_frame's own NAL scan.
func TestIntegrationSingleNALFrame(t *testing.T) {
	send, recv, cleanup := loopbackPair(t, 19001, 19002, h264Format, 0)
	defer cleanup()

	nal := append([]byte{0x40, 0x01}, bytes.Repeat([]byte{0xaa}, 194)...) // VPS-ish, 196 bytes
	frame := append([]byte{0, 0, 0, 1}, nal...)

	if err := send.PushFrame(context.Background(), frame, 1000, 0); err != nil {
		t.Fatalf("push_frame: %v", err)
	}

	got, err := recv.PullFrame(time.Second)
	if err != nil {
		t.Fatalf("pull_frame: %v", err)
	}
	if !bytes.Equal(got.Payload, nal) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got.Payload), len(nal))
	}
}

// S2 — two-FU P-frame: a NAL larger than the payload budget is fragmented
// and reassembled across the real transport, byte-for-byte.
func TestIntegrationFragmentedFrame(t *testing.T) {
	send, recv, cleanup := loopbackPair(t, 19003, 19004, h264Format, 0, WithPayloadSize(1452))
	defer cleanup()

	nal := append([]byte{0x21}, bytes.Repeat([]byte{0x5a}, 2900)...)
	frame := append([]byte{0, 0, 0, 1}, nal...)

	if err := send.PushFrame(context.Background(), frame, 2000, 0); err != nil {
		t.Fatalf("push_frame: %v", err)
	}

	got, err := recv.PullFrame(time.Second)
	if err != nil {
		t.Fatalf("pull_frame: %v", err)
	}
	if !bytes.Equal(got.Payload, nal) {
		t.Fatalf("reassembled NAL mismatch: got %d bytes, want %d", len(got.Payload), len(nal))
	}
}

// S5 — aggregation: three small NALs pushed together fit one aggregation
// packet on the wire and arrive as three separate frames.
func TestIntegrationAggregatedFrame(t *testing.T) {
	send, recv, cleanup := loopbackPair(t, 19005, 19006, h264Format, 0)
	defer cleanup()

	n1 := append([]byte{0x67}, bytes.Repeat([]byte{0x01}, 39)...)
	n2 := append([]byte{0x68}, bytes.Repeat([]byte{0x02}, 49)...)
	n3 := append([]byte{0x65}, bytes.Repeat([]byte{0x03}, 59)...)

	var frame []byte
	for _, n := range [][]byte{n1, n2, n3} {
		frame = append(frame, 0, 0, 0, 1)
		frame = append(frame, n...)
	}

	if err := send.PushFrame(context.Background(), frame, 3000, 0); err != nil {
		t.Fatalf("push_frame: %v", err)
	}

	want := [][]byte{n1, n2, n3}
	for i, w := range want {
		got, err := recv.PullFrame(time.Second)
		if err != nil {
			t.Fatalf("pull_frame %d: %v", i, err)
		}
		if !bytes.Equal(got.Payload, w) {
			t.Fatalf("member %d mismatch: got %d bytes, want %d", i, len(got.Payload), len(w))
		}
	}
}

// Ordering: several independent frames pushed back to back arrive in the
// same order over the real socket pair.
func TestIntegrationMultipleFramesArriveInOrder(t *testing.T) {
	send, recv, cleanup := loopbackPair(t, 19007, 19008, h264Format, 0)
	defer cleanup()

	const count = 5
	for i := 0; i < count; i++ {
		nal := append([]byte{0x41}, byte(i))
		frame := append([]byte{0, 0, 0, 1}, nal...)
		if err := send.PushFrame(context.Background(), frame, uint32(4000+i*3000), 0); err != nil {
			t.Fatalf("push_frame %d: %v", i, err)
		}
	}

	for i := 0; i < count; i++ {
		got, err := recv.PullFrame(time.Second)
		if err != nil {
			t.Fatalf("pull_frame %d: %v", i, err)
		}
		if got.Payload[1] != byte(i) {
			t.Fatalf("frame %d out of order: payload tag = %d", i, got.Payload[1])
		}
	}
}

// rawFragmentSender builds RTP packets directly from h26x.Sender output,
// bypassing internal/framequeue, so a test can omit a chosen fragment --
// something the public push_frame API has no hook for.
type rawFragmentSender struct {
	conn     *net.UDPConn
	ssrc     uint32
	sequence uint16
}

func newRawFragmentSender(t *testing.T, dstPort int) *rawFragmentSender {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dst, err := net.ResolveUDPAddr("udp", "127.0.0.1:"+strconv.Itoa(dstPort))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.DialUDP("udp", addr, dst)
	if err != nil {
		t.Fatal(err)
	}
	return &rawFragmentSender{conn: conn, ssrc: randomSSRC()}
}

// sendAllBut transmits every packet in payloads except index skip (-1 sends
// everything), each wrapped in its own RTP header at timestamp ts.
func (r *rawFragmentSender) sendAllBut(t *testing.T, ts uint32, payloads [][]byte, skip int) {
	t.Helper()
	for i, payload := range payloads {
		if i == skip {
			continue
		}
		hdr := &wire.Header{
			Marker:      i == len(payloads)-1,
			PayloadType: 96,
			Sequence:    r.sequence,
			Timestamp:   ts,
			SSRC:        r.ssrc,
		}
		r.sequence++
		buf := make([]byte, hdr.Len()+len(payload))
		w := packet.NewWriter(buf)
		if err := hdr.Encode(w); err != nil {
			t.Fatal(err)
		}
		if err := w.WriteSlice(payload); err != nil {
			t.Fatal(err)
		}
		if _, err := r.conn.Write(w.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
}

func (r *rawFragmentSender) Close() { r.conn.Close() }

// S4 — lost middle: dropping one fragment of a three-FU NAL leaves the
// frame stranded; after max-frame-delay it is garbage collected and never
// delivered.
func TestIntegrationLostMiddleFragmentNeverDelivered(t *testing.T) {
	ctx := NewContext()
	session, err := ctx.NewSession("127.0.0.1", "127.0.0.1", SessionOptions{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	recv, err := session.NewMediaStream(19009, 19010, h264Format, 0, WithMaxFrameDelay(30*time.Millisecond))
	if err != nil {
		t.Fatalf("new recv stream: %v", err)
	}
	defer recv.Close()

	cap := h26x.CapabilityFor(h26x.H264)
	sender, err := h26x.NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}
	nal := append([]byte{0x21}, bytes.Repeat([]byte{0x5a}, 4000)...)
	packets, err := sender.BuildPackets(nal, h26x.NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 3 {
		t.Fatalf("expected at least 3 fragments, got %d", len(packets))
	}

	var payloads [][]byte
	for _, p := range packets {
		payloads = append(payloads, p.Payload)
	}

	raw := newRawFragmentSender(t, 19009)
	defer raw.Close()
	raw.sendAllBut(t, 5000, payloads, 1) // drop the middle fragment

	_, err = recv.PullFrame(300 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("pull_frame after a lost fragment = %v, want ErrTimeout", err)
	}
}

// S6 — intra-delay enforcement: with H26xDependencyEnforcement set, a
// dropped intra frame poisons subsequent inter frames until a fresh intra
// frame clears the latch.
func TestIntegrationIntraDelayEnforcement(t *testing.T) {
	ctx := NewContext()
	session, err := ctx.NewSession("127.0.0.1", "127.0.0.1", SessionOptions{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	recv, err := session.NewMediaStream(19011, 19012, h264Format, H26xDependencyEnforcement, WithMaxFrameDelay(30*time.Millisecond))
	if err != nil {
		t.Fatalf("new recv stream: %v", err)
	}
	defer recv.Close()

	cap := h26x.CapabilityFor(h26x.H264)
	sender, err := h26x.NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}

	intraNAL := append([]byte{0x25}, bytes.Repeat([]byte{0x11}, 2900)...) // type 5, Intra
	intraPackets, err := sender.BuildPackets(intraNAL, h26x.NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}

	raw := newRawFragmentSender(t, 19011)
	defer raw.Close()

	var intraPayloads [][]byte
	for _, p := range intraPackets {
		intraPayloads = append(intraPayloads, p.Payload)
	}
	raw.sendAllBut(t, 6000, intraPayloads, len(intraPayloads)-1) // drop the last fragment

	// Let GC condemn the stranded intra frame and arm the discard latch.
	time.Sleep(150 * time.Millisecond)

	interNAL := append([]byte{0x21}, bytes.Repeat([]byte{0x22}, 10)...) // type 1, Inter
	raw.sendAllBut(t, 7000, [][]byte{interNAL}, -1)

	if _, err := recv.PullFrame(200 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("inter frame delivered while latched: err = %v", err)
	}

	freshIntraNAL := append([]byte{0x25}, bytes.Repeat([]byte{0x33}, 10)...)
	raw.sendAllBut(t, 8000, [][]byte{freshIntraNAL}, -1)

	got, err := recv.PullFrame(time.Second)
	if err != nil {
		t.Fatalf("pull_frame after a fresh intra frame: %v", err)
	}
	if !bytes.Equal(got.Payload, freshIntraNAL) {
		t.Fatalf("fresh intra frame mismatch")
	}
}
