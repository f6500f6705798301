package transport

import (
	"net"
	"sync/atomic"
	"time"
)

// deadlineConn pushes the connection deadline forward on every Read and
// Write, so a stalled peer fails the current operation after timeout instead
// of blocking forever. A zero timeout disables the deadline.
type deadlineConn struct {
	net.Conn
	timeout atomic.Int64
}

func newDeadlineConn(conn net.Conn, timeout time.Duration) *deadlineConn {
	c := &deadlineConn{Conn: conn}
	c.setTimeout(timeout)
	return c
}

func (c *deadlineConn) setTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if d := time.Duration(c.timeout.Load()); d > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(d))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if d := time.Duration(c.timeout.Load()); d > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(d))
	}
	return c.Conn.Write(p)
}
