package h26x

import "testing"

func TestSplitNALUnitsScansStartCodes(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0xaa, 0, 0, 1, 0x68, 0xbb, 0xcc}
	units := splitNALUnits(data, true)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if len(units[0]) != 2 || units[0][0] != 0x67 {
		t.Errorf("unit 0 = %x", units[0])
	}
	if len(units[1]) != 3 || units[1][0] != 0x68 {
		t.Errorf("unit 1 = %x", units[1])
	}
}

func TestSplitNALUnitsNoScan(t *testing.T) {
	data := []byte{0x67, 0xaa, 0xbb}
	units := splitNALUnits(data, false)
	if len(units) != 1 || &units[0][0] != &data[0] {
		t.Fatalf("expected the single input slice unchanged, got %v", units)
	}
}

func TestBuildPacketsSmallNALIsSingleUnaggregated(t *testing.T) {
	s, err := NewSender(CapabilityFor(H264), 1452)
	if err != nil {
		t.Fatal(err)
	}
	nal := append([]byte{0x65}, make([]byte, 100)...)
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if len(packets[0].Payload) != len(nal) {
		t.Errorf("payload length = %d, want %d", len(packets[0].Payload), len(nal))
	}
	if !packets[0].Marker {
		t.Error("expected marker bit on the only packet")
	}
}

func TestBuildPacketsAggregatesSmallNALs(t *testing.T) {
	s, err := NewSender(CapabilityFor(H264), 1452)
	if err != nil {
		t.Fatal(err)
	}
	frame := append([]byte{0, 0, 0, 1}, nalOfLen(0x67, 40)...)
	frame = append(frame, 0, 0, 0, 1)
	frame = append(frame, nalOfLen(0x68, 50)...)
	frame = append(frame, 0, 0, 0, 1)
	frame = append(frame, nalOfLen(0x65, 60)...)

	packets, err := s.BuildPackets(frame, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1 aggregation packet", len(packets))
	}
	if packets[0].Payload[0]&0x1f != h264APType {
		t.Errorf("payload type = %d, want %d (STAP-A)", packets[0].Payload[0]&0x1f, h264APType)
	}
	if !packets[0].Marker {
		t.Error("expected marker bit set")
	}
}

func TestBuildPacketsFragmentsOversizedNAL(t *testing.T) {
	const budget = 1452
	s, err := NewSender(CapabilityFor(H264), budget)
	if err != nil {
		t.Fatal(err)
	}

	// One byte over budget: must split into exactly two FUs (start + end).
	nal := nalOfLen(0x65, budget+1)
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if packets[0].Payload[0]&0x1f != h264FUType {
		t.Errorf("packet 0 indicator type = %d, want FU-A", packets[0].Payload[0]&0x1f)
	}
	if packets[0].Payload[1]&0x80 == 0 {
		t.Error("packet 0 missing FU start bit")
	}
	if packets[1].Payload[1]&0x40 == 0 {
		t.Error("packet 1 missing FU end bit")
	}
	if !packets[1].Marker {
		t.Error("expected marker bit on the last fragment")
	}
}

func TestBuildPacketsExactBudgetIsSinglePacket(t *testing.T) {
	const budget = 1452
	s, err := NewSender(CapabilityFor(H264), budget)
	if err != nil {
		t.Fatal(err)
	}
	nal := nalOfLen(0x65, budget)
	packets, err := s.BuildPackets(nal, NoStartCodeScan)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
}

func nalOfLen(header byte, n int) []byte {
	buf := make([]byte, n)
	buf[0] = header
	return buf
}
