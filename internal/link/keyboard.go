package link

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// Keyboard delivers single keystrokes from the controlling terminal as
// Keystroke events. The terminal is switched to raw mode so keys arrive
// without waiting for Enter; the previous state is restored on Close.
type Keyboard struct {
	fd     int
	state  *term.State
	closed atomic.Bool
}

// OpenKeyboard puts stdin into raw mode. It fails when stdin is not a
// terminal (for example under file replay in a pipeline); callers treat
// that as "no keyboard" rather than an error worth aborting for.
func OpenKeyboard() (*Keyboard, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("link: stdin is not a terminal")
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("link: raw mode: %w", err)
	}
	return &Keyboard{fd: fd, state: state}, nil
}

// Start begins delivering keystrokes. Ctrl-C arrives as a byte like any
// other key (raw mode disables the signal) and is surfaced as Done here,
// not passed to the commander; end-of-input on stdin also surfaces as Done.
func (k *Keyboard) Start(ch chan<- Event) error {
	go func() {
		var buf [1]byte
		for {
			n, err := os.Stdin.Read(buf[:])
			if err != nil {
				if k.closed.Load() {
					return
				}
				ch <- Event{Type: Done}
				return
			}
			if n == 1 {
				b := buf[0]
				if b == 0x03 { // Ctrl-C in raw mode
					ch <- Event{Type: Done}
					return
				}
				ch <- Event{Type: Keystroke, Data: []byte{b}}
			}
		}
	}()
	return nil
}

// Close restores the terminal state.
func (k *Keyboard) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	return term.Restore(k.fd, k.state)
}
