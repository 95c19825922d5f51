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

const (
	reportBlockLength = 24
	maxReports        = 31
)

// ReportBlock carries one source's reception statistics, RFC 3550 section
// 6.4.1. internal/rtcpstats computes the fields; this package only
// marshals/unmarshals them.
type ReportBlock struct {
	SSRC               uint32
	FractionLost       uint8
	TotalLost          uint32 // 24 bits on the wire
	LastSequenceNumber uint32 // extended highest sequence number received
	Jitter             uint32
	LastSenderReport   uint32
	DelaySinceLastSR   uint32
}

func (b ReportBlock) marshal(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:], b.SSRC)
	dst[4] = b.FractionLost
	dst[5] = byte(b.TotalLost >> 16)
	dst[6] = byte(b.TotalLost >> 8)
	dst[7] = byte(b.TotalLost)
	binary.BigEndian.PutUint32(dst[8:], b.LastSequenceNumber)
	binary.BigEndian.PutUint32(dst[12:], b.Jitter)
	binary.BigEndian.PutUint32(dst[16:], b.LastSenderReport)
	binary.BigEndian.PutUint32(dst[20:], b.DelaySinceLastSR)
}

func (b *ReportBlock) unmarshal(src []byte) {
	b.SSRC = binary.BigEndian.Uint32(src[0:])
	b.FractionLost = src[4]
	b.TotalLost = uint32(src[5])<<16 | uint32(src[6])<<8 | uint32(src[7])
	b.LastSequenceNumber = binary.BigEndian.Uint32(src[8:])
	b.Jitter = binary.BigEndian.Uint32(src[12:])
	b.LastSenderReport = binary.BigEndian.Uint32(src[16:])
	b.DelaySinceLastSR = binary.BigEndian.Uint32(src[20:])
}

// ReceiverReport is an RTCP receiver report, RFC 3550 section 6.4.2. Report
// generation is out of scope for the core library (section 4.8); this type
// exists so a caller building telemetry on top of internal/rtcpstats has
// somewhere to marshal report blocks to.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReportBlock
}

func (r ReceiverReport) Header() Header {
	return Header{
		Count:  uint8(len(r.Reports)),
		Type:   TypeReceiverReport,
		Length: uint16((headerLength + 4 + len(r.Reports)*reportBlockLength) / 4 - 1),
	}
}

func (r ReceiverReport) DestinationSSRC() []uint32 {
	ssrcs := make([]uint32, 0, len(r.Reports))
	for _, rep := range r.Reports {
		ssrcs = append(ssrcs, rep.SSRC)
	}
	return ssrcs
}

func (r ReceiverReport) Marshal() ([]byte, error) {
	if len(r.Reports) > maxReports {
		return nil, errTooManyReports
	}

	rawPacket := make([]byte, headerLength+4+len(r.Reports)*reportBlockLength)
	hdr, err := r.Header().Marshal()
	if err != nil {
		return nil, err
	}
	copy(rawPacket, hdr)
	binary.BigEndian.PutUint32(rawPacket[headerLength:], r.SSRC)

	offset := headerLength + 4
	for _, rep := range r.Reports {
		rep.marshal(rawPacket[offset:])
		offset += reportBlockLength
	}
	return rawPacket, nil
}

func (r *ReceiverReport) Unmarshal(rawPacket []byte) error {
	var h Header
	if err := h.Unmarshal(rawPacket); err != nil {
		return err
	}
	if h.Type != TypeReceiverReport {
		return errWrongType
	}
	if len(rawPacket) < headerLength+4+int(h.Count)*reportBlockLength {
		return errPacketTooShort
	}

	r.SSRC = binary.BigEndian.Uint32(rawPacket[headerLength:])
	r.Reports = make([]ReportBlock, h.Count)
	offset := headerLength + 4
	for i := range r.Reports {
		r.Reports[i].unmarshal(rawPacket[offset:])
		offset += reportBlockLength
	}
	return nil
}
