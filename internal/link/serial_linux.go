package link

import (
	"fmt"
	"sync/atomic"

	serial "github.com/daedaluz/goserial"
)

// SerialTarget reads the trace stream from a serial port, configured raw at
// the requested baud rate via termios2 so non-standard rates work too.
type SerialTarget struct {
	port   *serial.Port
	closed atomic.Bool
}

// OpenSerial opens the serial device at the given baud rate.
func OpenSerial(device string, baud int) (*SerialTarget, error) {
	port, err := serial.Open(device, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("link: open serial %q: %w", device, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("link: serial attributes: %w", err)
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(uint32(baud))
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: serial %d baud: %w", baud, err)
	}

	return &SerialTarget{port: port}, nil
}

// Start begins forwarding serial bytes.
func (t *SerialTarget) Start(ch chan<- Event) error {
	go func() {
		for {
			buf := make([]byte, readBufSize)
			n, err := t.port.Read(buf)
			if n > 0 {
				ch <- Event{Type: TargetBytes, Data: buf[:n]}
			}
			if err != nil {
				if t.closed.Load() {
					return
				}
				ch <- Event{Type: Error, Err: fmt.Errorf("link: serial read: %w", err)}
				return
			}
		}
	}()
	return nil
}

// Send writes a command frame to the target and drains it onto the line.
func (t *SerialTarget) Send(b []byte) error {
	if _, err := t.port.Write(b); err != nil {
		return fmt.Errorf("link: serial write: %w", err)
	}
	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("link: serial drain: %w", err)
	}
	return nil
}

// Close releases the port.
func (t *SerialTarget) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.port.Close()
}
