package rtpflow

import (
	"fmt"
	"os"
)

// defaultCNAME derives an RTCP CNAME the way the original uvgRTP
// implementation's hostname.cc/util.cc do: hostname, optionally qualified
// by the current user, falling back to a PID-qualified placeholder if even
// os.Hostname() fails. Used only when the caller doesn't supply one via
// SessionOptions.CNAME.
func defaultCNAME() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("host-%d", os.Getpid())
	}
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		return host
	}
	return fmt.Sprintf("%s@%s", user, host)
}
