package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// TCPTarget accepts the target's TCP connection on a local port. Embedded
// targets dial in (typically through a debug probe's network bridge); after
// a target reboot the next connection is accepted on the same listener, so
// one Spyglass session can span many target power cycles.
type TCPTarget struct {
	logger   *slog.Logger
	listener *net.TCPListener

	mu   sync.Mutex
	conn net.Conn

	closed atomic.Bool
}

// OpenTCP starts listening for the target on port.
func OpenTCP(port int, logger *slog.Logger) (*TCPTarget, error) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("link: listen tcp port %d: %w", port, err)
	}
	return &TCPTarget{logger: logger, listener: l}, nil
}

// Addr returns the bound listener address.
func (t *TCPTarget) Addr() net.Addr { return t.listener.Addr() }

// Start begins accepting target connections and forwarding their bytes.
func (t *TCPTarget) Start(ch chan<- Event) error {
	go t.acceptLoop(ch)
	return nil
}

func (t *TCPTarget) acceptLoop(ch chan<- Event) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			ch <- Event{Type: Error, Err: fmt.Errorf("link: tcp accept: %w", err)}
			return
		}
		t.logger.Info("target connected", slog.String("remote", conn.RemoteAddr().String()))

		t.mu.Lock()
		if t.conn != nil {
			// A reconnecting target supersedes the old session.
			t.conn.Close()
		}
		t.conn = conn
		t.mu.Unlock()

		t.readLoop(conn, ch)
	}
}

func (t *TCPTarget) readLoop(conn net.Conn, ch chan<- Event) {
	for {
		buf := make([]byte, readBufSize)
		n, err := conn.Read(buf)
		if n > 0 {
			ch <- Event{Type: TargetBytes, Data: buf[:n]}
		}
		if err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				t.logger.Info("target disconnected")
				return // back to accept
			}
			ch <- Event{Type: Error, Err: fmt.Errorf("link: tcp read: %w", err)}
			return
		}
	}
}

// Send writes a command frame to the connected target.
func (t *TCPTarget) Send(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("link: no target connected")
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("link: tcp write: %w", err)
	}
	return nil
}

// Close shuts the listener and any live connection down.
func (t *TCPTarget) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.listener.Close()
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	return err
}
