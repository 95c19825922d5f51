// Command rtpsend demuxes an MP4 file and pushes its H.264 video track over
// RTP, one frame at a time, using push_frame. It exercises the
// fragmentation engine the way the teacher's FileMediaSource once exercised
// WebRTC's video track: read packets from joy4, sleep until the packet's
// own scheduled time, push.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/av/avutil"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtpflow"
	"github.com/lanikai/rtpflow/internal/h26x"
	"github.com/lanikai/rtpflow/internal/logging"
)

var log = logging.DefaultLogger.WithTag("rtpsend")

var (
	flagInput      string
	flagRemoteHost string
	flagLocalHost  string
	flagSrcPort    int
	flagDstPort    int
	flagPayloadPT  int
	flagClockRate  int
	flagRTCPMux    bool
	flagHelp       bool
)

func init() {
	flag.StringVarP(&flagInput, "input", "i", "", "MP4 file containing an H.264 video track")
	flag.StringVarP(&flagRemoteHost, "remote", "r", "127.0.0.1", "Remote host to send to")
	flag.StringVarP(&flagLocalHost, "local", "l", "0.0.0.0", "Local host to bind")
	flag.IntVarP(&flagSrcPort, "src-port", "s", 5004, "Local UDP port")
	flag.IntVarP(&flagDstPort, "dst-port", "d", 5004, "Remote UDP port")
	flag.IntVarP(&flagPayloadPT, "payload-type", "t", 96, "RTP dynamic payload type")
	flag.IntVarP(&flagClockRate, "clock-rate", "c", 90000, "RTP clock rate, in Hz")
	flag.BoolVar(&flagRTCPMux, "rtcp-mux", true, "Multiplex RTCP onto the same port")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")

	avutil.DefaultHandlers.Add(mp4.Handler)
}

func main() {
	flag.Parse()
	if flagHelp || flagInput == "" {
		fmt.Fprintln(os.Stderr, "Usage: rtpsend -i input.mp4 -r 127.0.0.1 -d 5004")
		flag.PrintDefaults()
		os.Exit(0)
	}

	file, err := avutil.Open(flagInput)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()

	streams, err := file.Streams()
	if err != nil {
		log.Fatal(err)
	}
	var video av.VideoCodecData
	for _, s := range streams {
		if s.Type() == av.H264 {
			video = s.(av.VideoCodecData)
		}
	}
	if video == nil {
		log.Fatal("no H.264 video stream found in " + flagInput)
	}
	log.Info("%v stream: %dx%d", video.Type(), video.Width(), video.Height())

	rtpCtx := rtpflow.NewContext()
	defer rtpCtx.Close()

	session, err := rtpCtx.NewSession(flagRemoteHost, flagLocalHost, rtpflow.SessionOptions{})
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	var flags rtpflow.Flags
	if flagRTCPMux {
		flags |= rtpflow.RTCPMux
	}

	format := rtpflow.Format{
		Family:      h26x.H264,
		PayloadType: uint8(flagPayloadPT),
		ClockRate:   uint32(flagClockRate),
	}
	stream, err := session.NewMediaStream(flagSrcPort, flagDstPort, format, flags)
	if err != nil {
		log.Fatal(err)
	}
	defer stream.Close()

	ctx := context.Background()
	start := time.Now()
	var interval time.Duration
	var count int

	for {
		pkt, err := file.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if pkt.Idx != 0 {
			continue // not the video track
		}

		if interval == 0 {
			interval = pkt.Time
		}
		if delta := time.Until(start.Add(time.Duration(count) * interval)); delta > 0 {
			time.Sleep(delta)
		}

		// joy4's MP4 demuxer hands back length-prefixed (AVCC) NAL units;
		// rewrite each 4-byte length field as an Annex B start code so
		// push_frame's own scanner can split aggregated NALs.
		var data []byte
		for rest := pkt.Data; len(rest) >= 4; {
			n := int(rest[0])<<24 | int(rest[1])<<16 | int(rest[2])<<8 | int(rest[3])
			rest = rest[4:]
			if n > len(rest) {
				n = len(rest)
			}
			data = append(data, 0, 0, 0, 1)
			data = append(data, rest[:n]...)
			rest = rest[n:]
		}
		if pkt.IsKeyFrame {
			if h264, ok := video.(h264parser.CodecData); ok {
				prefixed := append(annexB(h264.SPS()), annexB(h264.PPS())...)
				data = append(prefixed, data...)
			}
		}

		timestamp := uint32(pkt.Time.Seconds() * float64(flagClockRate))
		if err := stream.PushFrame(ctx, data, timestamp, 0); err != nil {
			log.Error("push_frame: %v", err)
		}
		count++
	}
	log.Info("sent %d frames", count)
}

func annexB(nalu []byte) []byte {
	buf := make([]byte, 0, 4+len(nalu))
	buf = append(buf, 0, 0, 0, 1)
	return append(buf, nalu...)
}
