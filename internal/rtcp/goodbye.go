// MIT License
//
// Copyright (c) 2018 Pions
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rtcp

import "encoding/binary"

// Goodbye is the RTCP BYE packet, RFC 3550 section 6.6, emitted by
// MediaStream.Close per section 5's shutdown sequence.
type Goodbye struct {
	Sources []uint32
	Reason  string
}

func (g Goodbye) Header() Header {
	length := 4 + 4*len(g.Sources)
	if g.Reason != "" {
		length += 1 + len(g.Reason)
		length += (4 - length%4) % 4
	}
	return Header{
		Count:  uint8(len(g.Sources)),
		Type:   TypeGoodbye,
		Length: uint16(length/4 - 1),
	}
}

func (g Goodbye) DestinationSSRC() []uint32 {
	return g.Sources
}

func (g Goodbye) Marshal() ([]byte, error) {
	if len(g.Sources) > maxReports {
		return nil, errTooManySources
	}
	if len(g.Reason) > 255 {
		return nil, errReasonTooLong
	}

	hdr, err := g.Header().Marshal()
	if err != nil {
		return nil, err
	}

	rawPacket := append([]byte(nil), hdr...)
	for _, ssrc := range g.Sources {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], ssrc)
		rawPacket = append(rawPacket, buf[:]...)
	}
	if g.Reason != "" {
		rawPacket = append(rawPacket, byte(len(g.Reason)))
		rawPacket = append(rawPacket, g.Reason...)
		for len(rawPacket)%4 != 0 {
			rawPacket = append(rawPacket, 0)
		}
	}
	return rawPacket, nil
}

func (g *Goodbye) Unmarshal(rawPacket []byte) error {
	var h Header
	if err := h.Unmarshal(rawPacket); err != nil {
		return err
	}
	if h.Type != TypeGoodbye {
		return errWrongType
	}
	if len(rawPacket) < headerLength+4*int(h.Count) {
		return errPacketTooShort
	}

	g.Sources = make([]uint32, h.Count)
	offset := headerLength
	for i := range g.Sources {
		g.Sources[i] = binary.BigEndian.Uint32(rawPacket[offset:])
		offset += 4
	}
	if offset < len(rawPacket) {
		reasonLen := int(rawPacket[offset])
		offset++
		if offset+reasonLen > len(rawPacket) {
			return errReasonTooLong
		}
		g.Reason = string(rawPacket[offset : offset+reasonLen])
	}
	return nil
}
