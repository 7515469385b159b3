//go:build !linux

package link

import "fmt"

// SerialTarget is only implemented for Linux hosts.
type SerialTarget struct{}

// OpenSerial reports that serial links are unsupported on this platform.
func OpenSerial(device string, baud int) (*SerialTarget, error) {
	return nil, fmt.Errorf("link: serial port support requires linux")
}

func (t *SerialTarget) Start(chan<- Event) error { return nil }
func (t *SerialTarget) Send([]byte) error        { return nil }
func (t *SerialTarget) Close() error             { return nil }
