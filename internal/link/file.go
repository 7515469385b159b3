package link

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// FileTarget replays a previously captured binary trace stream. The stream
// is delivered in chunks as fast as the event loop consumes them, followed
// by a Done event; timing fidelity is not reproduced.
type FileTarget struct {
	f      *os.File
	closed atomic.Bool
}

// OpenFile opens the capture at path for replay.
func OpenFile(path string) (*FileTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("link: open capture %q: %w", path, err)
	}
	return &FileTarget{f: f}, nil
}

// Start begins replaying the capture.
func (t *FileTarget) Start(ch chan<- Event) error {
	go func() {
		for {
			buf := make([]byte, readBufSize)
			n, err := t.f.Read(buf)
			if n > 0 {
				ch <- Event{Type: TargetBytes, Data: buf[:n]}
			}
			if err != nil {
				if t.closed.Load() {
					return
				}
				if errors.Is(err, io.EOF) {
					ch <- Event{Type: Done}
				} else {
					ch <- Event{Type: Error, Err: fmt.Errorf("link: capture read: %w", err)}
				}
				return
			}
		}
	}()
	return nil
}

// Send rejects every command frame with an error: a capture cannot receive
// commands.
func (t *FileTarget) Send([]byte) error {
	return fmt.Errorf("link: capture replay cannot send to target")
}

// Close stops the replay.
func (t *FileTarget) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.f.Close()
}
