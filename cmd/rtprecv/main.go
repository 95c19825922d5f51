// Command rtprecv binds a UDP port, pulls reassembled frames from an
// rtpflow media stream, and prints a running summary: frame count, bytes,
// and each frame's SSRC, sequence number and timestamp, colorized the way alohartcd colorized its banner.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtpflow"
	"github.com/lanikai/rtpflow/internal/h26x"
	"github.com/lanikai/rtpflow/internal/logging"
)

var log = logging.DefaultLogger.WithTag("rtprecv")

var (
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
	flag.StringVarP(&flagRemoteHost, "remote", "r", "0.0.0.0", "Remote host to accept from")
	flag.StringVarP(&flagLocalHost, "local", "l", "0.0.0.0", "Local host to bind")
	flag.IntVarP(&flagSrcPort, "src-port", "s", 5004, "Local UDP port to receive on")
	flag.IntVarP(&flagDstPort, "dst-port", "d", 5004, "Remote UDP port (unused when only receiving)")
	flag.IntVarP(&flagPayloadPT, "payload-type", "t", 96, "RTP dynamic payload type")
	flag.IntVarP(&flagClockRate, "clock-rate", "c", 90000, "RTP clock rate, in Hz")
	flag.BoolVar(&flagRTCPMux, "rtcp-mux", true, "Multiplex RTCP onto the same port")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

func main() {
	flag.Parse()
	if flagHelp {
		fmt.Fprintln(os.Stderr, "Usage: rtprecv -s 5004")
		flag.PrintDefaults()
		os.Exit(0)
	}

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

	g := color.New(color.FgGreen)
	y := color.New(color.FgYellow)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var frames, bytes int
	start := time.Now()
	for {
		select {
		case <-sigCh:
			y.Printf("\nreceived %d frames, %d bytes in %s\n", frames, bytes, time.Since(start).Round(time.Millisecond))
			return
		default:
		}

		frame, err := stream.PullFrame(250 * time.Millisecond)
		if err == rtpflow.ErrTimeout {
			continue
		}
		if err != nil {
			log.Error("pull_frame: %v", err)
			continue
		}

		frames++
		bytes += len(frame.Payload)
		g.Printf("frame %6d: ssrc=%08x seq=%5d ts=%10d %6d bytes\n",
			frames, frame.Header.SSRC, frame.Header.Sequence, frame.Header.Timestamp, len(frame.Payload))
	}
}
