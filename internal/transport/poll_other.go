// +build !linux

package transport

import "time"

// PollResult is the outcome of one PollRead call.
type PollResult int

const (
	// Ready indicates the socket has at least one datagram waiting.
	Ready PollResult = iota
	// TimedOut indicates no datagram arrived before timeout elapsed.
	TimedOut
)

// PollRead on non-Linux platforms folds poll and read into the subsequent
// ReadBatch call: it arms the socket's read deadline and reports Ready
// unconditionally, letting ReadBatch itself block (and time out) against
// that deadline. unix.Poll has no portable equivalent across the other
// platforms this module might run on, so there is no separate wait here.
func (c *Conn) PollRead(timeout time.Duration) (PollResult, error) {
	if err := c.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return TimedOut, err
	}
	return Ready, nil
}
