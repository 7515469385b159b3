package link

import (
	"fmt"
	"net"
	"sync/atomic"
)

// maxDatagram bounds one front-end datagram.
const maxDatagram = 1500

// FrontEndSource reads control datagrams from the back-end UDP socket and
// surfaces them as FrontEndBytes events carrying the sender address. The
// socket itself is shared with the back-end, which uses it to send replies
// and forwarded lines.
type FrontEndSource struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

// NewFrontEndSource wraps the shared back-end socket.
func NewFrontEndSource(conn *net.UDPConn) *FrontEndSource {
	return &FrontEndSource{conn: conn}
}

// Start begins reading datagrams.
func (s *FrontEndSource) Start(ch chan<- Event) error {
	go func() {
		for {
			buf := make([]byte, maxDatagram)
			n, addr, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if s.closed.Load() {
					return
				}
				ch <- Event{Type: Error, Err: fmt.Errorf("link: backend read: %w", err)}
				return
			}
			ch <- Event{Type: FrontEndBytes, Data: buf[:n], Addr: addr}
		}
	}()
	return nil
}

// Close stops reading. The shared socket is closed here, on behalf of the
// back-end as well.
func (s *FrontEndSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
