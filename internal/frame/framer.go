// Package frame implements the self-delimited binary record format spoken on
// the target link: 0x00-terminated frames, 0x7D escape quoting, and an 8-bit
// additive checksum. The Framer splits an arbitrary byte stream into decoded
// frames and resynchronizes after link noise; Encode performs the symmetric
// outbound transformation.
package frame

import (
	"errors"
	"fmt"
)

// Wire constants. The escape byte prefixes a payload byte XORed with
// EscapeXor so that neither the frame terminator nor the escape byte itself
// appears raw inside a frame.
const (
	FrameEnd  = 0x00
	Escape    = 0x7D
	EscapeXor = 0x20
)

// MaxPayload bounds the decoded size of a single frame. Anything longer is
// treated as a framing anomaly and dropped.
const MaxPayload = 1024

// MinFrame is the smallest valid decoded frame: type, sequence number and
// checksum.
const MinFrame = 3

// Framing anomalies reported through the warn callback.
var (
	ErrBadChecksum    = errors.New("frame: bad checksum")
	ErrShortFrame     = errors.New("frame: frame shorter than minimum")
	ErrDanglingEscape = errors.New("frame: escape at frame end")
	ErrOverflow       = errors.New("frame: payload exceeds maximum")
)

// decodeState is the escape automaton state.
type decodeState int

const (
	stateNormal decodeState = iota
	stateEscaped
	stateResync // discarding until the next frame boundary
)

// Framer decodes the inbound byte stream. For every complete, checksum-valid
// frame it calls the frame callback with the decoded bytes from the type byte
// through the last payload byte (the verified checksum byte is stripped). On
// any anomaly it calls the warn callback, drops the partial frame, and
// resumes from the next 0x00 boundary. Neither callback may retain the slice
// past its return.
type Framer struct {
	onFrame func(frame []byte)
	onWarn  func(err error)

	state decodeState
	buf   []byte
}

// NewFramer returns a Framer delivering decoded frames to onFrame and
// anomalies to onWarn. onWarn may be nil.
func NewFramer(onFrame func([]byte), onWarn func(error)) *Framer {
	return &Framer{
		onFrame: onFrame,
		onWarn:  onWarn,
		buf:     make([]byte, 0, MaxPayload),
	}
}

// Reset discards any partially accumulated frame. Called when the link is
// re-opened so stale bytes cannot leak into the new session.
func (f *Framer) Reset() {
	f.state = stateNormal
	f.buf = f.buf[:0]
}

// Feed appends bytes to the decoder, invoking the callbacks for every
// complete frame or anomaly found. Feed never blocks and never allocates
// beyond the fixed frame buffer.
func (f *Framer) Feed(data []byte) {
	for _, b := range data {
		switch f.state {
		case stateResync:
			if b == FrameEnd {
				f.state = stateNormal
				f.buf = f.buf[:0]
			}

		case stateEscaped:
			if b == FrameEnd {
				// An escape immediately followed by the frame
				// terminator cannot be produced by a correct
				// encoder.
				f.warn(ErrDanglingEscape)
				f.state = stateNormal
				f.buf = f.buf[:0]
				continue
			}
			f.state = stateNormal
			f.push(b ^ EscapeXor)

		case stateNormal:
			switch b {
			case Escape:
				f.state = stateEscaped
			case FrameEnd:
				f.complete()
			default:
				f.push(b)
			}
		}
	}
}

// push appends one decoded byte, switching to resync on overflow.
func (f *Framer) push(b byte) {
	if len(f.buf) >= MaxPayload {
		f.warn(ErrOverflow)
		f.state = stateResync
		f.buf = f.buf[:0]
		return
	}
	f.buf = append(f.buf, b)
}

// complete validates the frame accumulated so far and delivers it.
func (f *Framer) complete() {
	frame := f.buf
	f.buf = f.buf[:0]

	if len(frame) == 0 {
		// Back-to-back terminators delimit an idle line; not an error.
		return
	}
	if len(frame) < MinFrame {
		f.warn(ErrShortFrame)
		return
	}

	var sum uint8
	for _, b := range frame {
		sum += b
	}
	if sum != 0xFF {
		f.warn(fmt.Errorf("%w at seq=%d type=%d", ErrBadChecksum, frame[1], frame[0]))
		return
	}

	f.onFrame(frame[:len(frame)-1])
}

func (f *Framer) warn(err error) {
	if f.onWarn != nil {
		f.onWarn(err)
	}
}

// Encode produces the wire form of body: it appends the checksum byte that
// makes the 8-bit sum of the decoded frame equal 0xFF, escape-quotes every
// occurrence of FrameEnd and Escape, and terminates with FrameEnd. body must
// begin with the record-type and sequence bytes.
func Encode(body []byte) []byte {
	var sum uint8
	for _, b := range body {
		sum += b
	}
	chk := 0xFF - sum

	out := make([]byte, 0, len(body)+4)
	for _, b := range body {
		out = appendEscaped(out, b)
	}
	out = appendEscaped(out, chk)
	return append(out, FrameEnd)
}

func appendEscaped(dst []byte, b byte) []byte {
	if b == FrameEnd || b == Escape {
		return append(dst, Escape, b^EscapeXor)
	}
	return append(dst, b)
}
