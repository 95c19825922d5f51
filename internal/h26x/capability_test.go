package h26x

import "testing"

func TestCapabilityForAllFamilies(t *testing.T) {
	for _, f := range []Family{H264, H265, H266, V3C} {
		c := CapabilityFor(f)
		if c.Family() != f {
			t.Errorf("CapabilityFor(%v).Family() = %v", f, c.Family())
		}
		if c.PayloadHeaderSize() <= 0 || c.NALHeaderSize() <= 0 || c.FUHeaderSize() <= 0 {
			t.Errorf("%v: non-positive header size", f)
		}
	}
}

func TestFUHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		cap      Capability
		original []byte
		naluType uint8
	}{
		{"h264", CapabilityFor(H264), []byte{0x65}, 5},
		{"h265", CapabilityFor(H265), []byte{0x26, 0x01}, 19},
		{"h266", CapabilityFor(H266), []byte{0x00, 0x48}, 9},
		{"v3c", CapabilityFor(V3C), []byte{0x22, 0x01}, 17},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fu := c.cap.BuildFUHeader(nil, c.original, true, false)
			if len(fu) != c.cap.PayloadHeaderSize()+c.cap.FUHeaderSize() {
				t.Fatalf("FU header length = %d, want %d", len(fu), c.cap.PayloadHeaderSize()+c.cap.FUHeaderSize())
			}
			if c.cap.PayloadNALType(fu) != c.cap.FUType() {
				t.Fatalf("PayloadNALType(fu) = %d, want FUType %d", c.cap.PayloadNALType(fu), c.cap.FUType())
			}
			kind, naluType := c.cap.ClassifyFragment(fu[len(fu)-1])
			if kind != FragmentStart {
				t.Errorf("kind = %v, want FragmentStart", kind)
			}
			if naluType != c.cap.NALType(c.original) {
				t.Errorf("naluType = %d, want %d", naluType, c.cap.NALType(c.original))
			}

			rebuilt := c.cap.BuildNALHeader(nil, fu[:c.cap.PayloadHeaderSize()], naluType)
			if len(rebuilt) != len(c.original) {
				t.Fatalf("rebuilt header length = %d, want %d", len(rebuilt), len(c.original))
			}
		})
	}
}

func TestClassifyFragmentInvalidWhenBothBitsSet(t *testing.T) {
	c := CapabilityFor(H264)
	kind, _ := c.ClassifyFragment(0x80 | 0x40 | 5)
	if kind != FragmentInvalid {
		t.Errorf("kind = %v, want FragmentInvalid", kind)
	}
}
