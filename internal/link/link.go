// Package link is the platform abstraction layer between the event loop and
// the outside world. It multiplexes three asynchronous inputs — the target
// transport (serial, TCP or file replay), the front-end UDP socket, and the
// keyboard — into a single synchronous NextEvent call with a bounded
// timeout, the only suspension point of the event loop.
//
// Each source runs a small reader goroutine that serializes its events into
// the shared channel; no component downstream of the mux ever blocks.
package link

import (
	"fmt"
	"net"
	"time"
)

// EventType discriminates the events returned by Mux.NextEvent.
type EventType int

const (
	// NoEvent means every input timed out this time around.
	NoEvent EventType = iota
	// TargetBytes carries raw trace-stream bytes from the target.
	TargetBytes
	// FrontEndBytes carries one UDP datagram from a front-end client.
	FrontEndBytes
	// Keystroke carries one byte typed by the user.
	Keystroke
	// Done reports an orderly end of input (file replayed, terminal
	// closed).
	Done
	// Error reports an unrecoverable link failure.
	Error
)

// Event is one logical input event.
type Event struct {
	Type EventType
	Data []byte
	// Addr is the datagram source for FrontEndBytes events.
	Addr *net.UDPAddr
	// Err carries the failure for Error events.
	Err error
}

// Source is an input that produces events into the mux until closed.
type Source interface {
	// Start begins producing events into ch. It must not block.
	Start(ch chan<- Event) error
	// Close stops the source and releases its resources. It must be
	// idempotent.
	Close() error
}

// Target is the transport carrying the trace stream, with a back channel
// for command frames.
type Target interface {
	Source
	// Send writes one encoded command frame to the target.
	Send(b []byte) error
}

// readBufSize is the per-read buffer for stream transports.
const readBufSize = 8 * 1024

// Mux owns the event sources and presents them as one synchronous input.
type Mux struct {
	ch      chan Event
	timeout time.Duration

	target  Target
	sources []Source
}

// NewMux returns a mux whose NextEvent blocks at most timeout.
func NewMux(timeout time.Duration) *Mux {
	return &Mux{
		// Sized so a burst from one source cannot starve the others
		// while the loop is busy.
		ch:      make(chan Event, 64),
		timeout: timeout,
	}
}

// SetTarget installs and starts the target transport.
func (m *Mux) SetTarget(t Target) error {
	if m.target != nil {
		return fmt.Errorf("link: target already set")
	}
	if err := t.Start(m.ch); err != nil {
		return err
	}
	m.target = t
	m.sources = append(m.sources, t)
	return nil
}

// AddSource installs and starts an auxiliary event source.
func (m *Mux) AddSource(s Source) error {
	if err := s.Start(m.ch); err != nil {
		return err
	}
	m.sources = append(m.sources, s)
	return nil
}

// NextEvent returns the next pending event, or a NoEvent after the poll
// timeout. This is the event loop's only suspension point.
func (m *Mux) NextEvent() Event {
	select {
	case ev := <-m.ch:
		return ev
	case <-time.After(m.timeout):
		return Event{Type: NoEvent}
	}
}

// SendToTarget writes one encoded command frame to the target transport.
func (m *Mux) SendToTarget(b []byte) error {
	if m.target == nil {
		return fmt.Errorf("link: no target transport")
	}
	return m.target.Send(b)
}

// Close stops every source. Idempotent: sources guarantee their own Close
// is repeatable.
func (m *Mux) Close() {
	for _, s := range m.sources {
		s.Close()
	}
}
