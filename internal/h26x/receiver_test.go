package h26x

import (
	"bytes"
	"testing"
	"time"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/wire"
)

func frameFor(payload []byte, seq uint16, ts uint32) *wire.Frame {
	return &wire.Frame{
		Header: wire.Header{
			PayloadType: 96,
			Sequence:    seq,
			Timestamp:   ts,
			SSRC:        0xc0ffee,
		},
		Payload: payload,
	}
}

// S2 — two-FU P-frame: push a 2901-byte NAL, expect two FU packets whose
// reassembly equals the input NAL byte-for-byte.
func TestReceiverTwoFUsRoundTrip(t *testing.T) {
	cap := CapabilityFor(H264)
	s, err := NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}
	nal := nalOfLen(0x21, 2901) // nal_unit_type 1 (non-IDR slice); 2 FUs exactly at this budget
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if packets[0].Payload[1] != 0x81 {
		t.Errorf("FU header 0 = %#x, want 0x81 (S-bit, type 1)", packets[0].Payload[1])
	}
	if packets[1].Payload[1] != 0x41 {
		t.Errorf("FU header 1 = %#x, want 0x41 (E-bit, type 1)", packets[1].Payload[1])
	}

	r := NewReceiver(cap)
	res, _, err := r.ProcessFragment(frameFor(packets[0].Payload, 1000, 90000))
	if err != nil {
		t.Fatal(err)
	}
	if res != dispatch.Ok {
		t.Fatalf("first fragment result = %v, want Ok", res)
	}

	res, out, err := r.ProcessFragment(frameFor(packets[1].Payload, 1001, 90000))
	if err != nil {
		t.Fatal(err)
	}
	if res != dispatch.PktReady {
		t.Fatalf("second fragment result = %v, want PktReady", res)
	}
	if len(out) != 1 {
		t.Fatalf("got %d frames, want 1", len(out))
	}
	if !bytes.Equal(out[0].Payload, nal) {
		t.Errorf("reconstructed NAL mismatch: got %d bytes, want %d", len(out[0].Payload), len(nal))
	}
}

// S3 — out-of-order reassembly: deliver a three-FU NAL's fragments in the
// order middle, end, start; expect exactly one delivered frame equal to
// the input.
func TestReceiverOutOfOrderReassembly(t *testing.T) {
	cap := CapabilityFor(H264)
	s, err := NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}
	nal := nalOfLen(0x21, 4000)
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(packets))
	}

	r := NewReceiver(cap)
	order := []int{1, 2, 0} // middle, end, start
	var lastRes dispatch.Result
	var lastOut []*wire.Frame
	for _, i := range order {
		lastRes, lastOut, err = r.ProcessFragment(frameFor(packets[i].Payload, uint16(2000+i), 90000))
		if err != nil {
			t.Fatal(err)
		}
	}
	if lastRes != dispatch.PktReady {
		t.Fatalf("final result = %v, want PktReady", lastRes)
	}
	if len(lastOut) != 1 || !bytes.Equal(lastOut[0].Payload, nal) {
		t.Fatalf("reassembled frame mismatch")
	}
}

// S4 — lost middle: drop the middle fragment and wait past max-frame-delay;
// expect zero frames delivered and a subsequent straggler to be dropped.
func TestReceiverLostMiddleFragmentGCsAndDropsStraggler(t *testing.T) {
	cap := CapabilityFor(H264)
	s, err := NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}
	nal := nalOfLen(0x21, 4000)
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReceiver(cap, WithMaxFrameDelay(50*time.Millisecond))
	base := time.Now()

	if _, _, err := r.ProcessFragment(frameFor(packets[0].Payload, 3000, 90000)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ProcessFragment(frameFor(packets[2].Payload, 3002, 90000)); err != nil {
		t.Fatal(err)
	}

	reclaimed := r.GC(base.Add(200 * time.Millisecond))
	if reclaimed == 0 {
		t.Error("expected GC to reclaim the stranded fragments")
	}
	if len(r.records) != 0 {
		t.Errorf("expected no in-flight records after GC, got %d", len(r.records))
	}

	res, out, err := r.ProcessFragment(frameFor(packets[1].Payload, 3001, 90000))
	if err == nil {
		t.Error("expected the straggler for a dropped timestamp to error")
	}
	if res != dispatch.GenericError || len(out) != 0 {
		t.Errorf("straggler result = %v/%d frames, want GenericError/0", res, len(out))
	}
}

// S5 — aggregation: three NALs aggregated into one AP; receiver delivers
// three frames whose payloads equal the three inputs.
func TestReceiverAggregationSplitsIntoMembers(t *testing.T) {
	cap := CapabilityFor(H264)
	budget := 2 + 3*(2+60)
	s, err := NewSender(cap, budget)
	if err != nil {
		t.Fatal(err)
	}
	n1, n2, n3 := nalOfLen(0x67, 40), nalOfLen(0x68, 50), nalOfLen(0x65, 60)
	frame := append([]byte{0, 0, 0, 1}, n1...)
	frame = append(frame, 0, 0, 0, 1)
	frame = append(frame, n2...)
	frame = append(frame, 0, 0, 0, 1)
	frame = append(frame, n3...)

	packets, err := s.BuildPackets(frame, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1 AP", len(packets))
	}

	r := NewReceiver(cap)
	res, out, err := r.ProcessFragment(frameFor(packets[0].Payload, 5000, 90000))
	if err != nil {
		t.Fatal(err)
	}
	if res != dispatch.MultiplePktsReady {
		t.Fatalf("result = %v, want MultiplePktsReady", res)
	}
	if len(out) != 3 {
		t.Fatalf("got %d members, want 3", len(out))
	}
	want := [][]byte{n1, n2, n3}
	for i, w := range want {
		if !bytes.Equal(out[i].Payload, w) {
			t.Errorf("member %d mismatch", i)
		}
	}
}

// S6 — intra-delay enforcement: with the policy enabled, once a frame is
// dropped, subsequent Inter frames are discarded until an Intra frame
// clears the latch.
func TestReceiverIntraDelayLatch(t *testing.T) {
	cap := CapabilityFor(H264)
	s, err := NewSender(cap, 1452)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReceiver(cap, WithIntraDelay(true), WithMaxFrameDelay(10*time.Millisecond))
	r.discardUntilIntra = true // simulate a prior drop having armed the latch

	interNAL := nalOfLen(0x21, 2901) // type 1, Inter; 2 FUs exactly at this budget
	packets, err := s.BuildPackets(interNAL, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ProcessFragment(frameFor(packets[0].Payload, 1, 1000)); err != nil {
		t.Fatal(err)
	}
	res, out, err := r.ProcessFragment(frameFor(packets[1].Payload, 2, 1000))
	if err == nil {
		t.Error("expected the inter frame to be rejected while latched")
	}
	if res != dispatch.GenericError || len(out) != 0 {
		t.Errorf("result = %v/%d frames, want GenericError/0", res, len(out))
	}

	intraNAL := nalOfLen(0x25, 2901) // type 5, Intra; 2 FUs exactly at this budget
	packets, err = s.BuildPackets(intraNAL, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ProcessFragment(frameFor(packets[0].Payload, 3, 2000)); err != nil {
		t.Fatal(err)
	}
	res, out, err = r.ProcessFragment(frameFor(packets[1].Payload, 4, 2000))
	if err != nil {
		t.Fatal(err)
	}
	if res != dispatch.PktReady {
		t.Fatalf("intra frame result = %v, want PktReady", res)
	}
	if !bytes.Equal(out[0].Payload, intraNAL) {
		t.Error("reconstructed intra frame mismatch")
	}
	if r.discardUntilIntra {
		t.Error("expected the latch to clear after an intra frame")
	}
}
