// +build linux

package transport

import (
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// PollResult is the outcome of one PollRead call.
type PollResult int

const (
	// Ready indicates the socket has at least one datagram waiting.
	Ready PollResult = iota
	// TimedOut indicates no datagram arrived before timeout elapsed.
	TimedOut
)

// PollRead waits up to timeout for the socket to become readable, the
// receiver thread's "~100 ms timeout poll" suspension point from section
// 5. Grounded on the teacher's internal/v4l2/device.go, which polls a V4L2
// device fd the same way with unix.Poll; this repurposes that primitive
// from ioctl device polling to UDP socket polling.
func (c *Conn) PollRead(timeout time.Duration) (PollResult, error) {
	sc, err := c.pc.SyscallConn()
	if err != nil {
		return TimedOut, xerrors.Errorf("transport: syscall conn: %w", err)
	}

	var pollErr error
	var ready bool
	err = sc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, e := unix.Poll(fds, int(timeout.Milliseconds()))
		if e != nil && e != unix.EINTR {
			pollErr = e
			return
		}
		ready = n > 0 && fds[0].Revents&unix.POLLIN != 0
	})
	if err != nil {
		return TimedOut, xerrors.Errorf("transport: poll control: %w", err)
	}
	if pollErr != nil {
		return TimedOut, xerrors.Errorf("transport: poll: %w", pollErr)
	}
	if !ready {
		return TimedOut, nil
	}
	return Ready, nil
}
