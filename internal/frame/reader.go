package frame

import (
	"errors"
	"fmt"
)

// Reader errors.
var (
	// ErrTruncated is returned when a typed read runs past the end of
	// the frame.
	ErrTruncated = errors.New("frame: truncated record")
	// ErrUnterminated is returned when a string field has no NUL
	// terminator inside the frame.
	ErrUnterminated = errors.New("frame: unterminated string")
)

// Reader is a cursor over one decoded frame. The typed readers honor the
// configured endianness; Uint reads a value of any of the width-parameterized
// field sizes and widens it to uint64.
type Reader struct {
	data      []byte
	pos       int
	bigEndian bool
}

// NewReader returns a cursor over data. bigEndian selects the byte order of
// all multi-byte reads.
func NewReader(data []byte, bigEndian bool) *Reader {
	return &Reader{data: data, bigEndian: bigEndian}
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// U16 reads a 16-bit value in the configured byte order.
func (r *Reader) U16() (uint16, error) {
	v, err := r.Uint(2)
	return uint16(v), err
}

// U32 reads a 32-bit value in the configured byte order.
func (r *Reader) U32() (uint32, error) {
	v, err := r.Uint(4)
	return uint32(v), err
}

// U64 reads a 64-bit value in the configured byte order.
func (r *Reader) U64() (uint64, error) {
	return r.Uint(8)
}

// Uint reads a value of the given byte width (1, 2, 4 or 8) and widens it to
// uint64. This is the single extractor behind every width-parameterized
// field: pointers, signals, event ids and counters.
func (r *Reader) Uint(width uint8) (uint64, error) {
	n := int(width)
	if n != 1 && n != 2 && n != 4 && n != 8 {
		return 0, fmt.Errorf("frame: unsupported field width %d", width)
	}
	if r.Remaining() < n {
		return 0, ErrTruncated
	}
	var v uint64
	if r.bigEndian {
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(r.data[r.pos+i])
		}
	} else {
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(r.data[r.pos+i])
		}
	}
	r.pos += n
	return v, nil
}

// Str reads a NUL-terminated string. The target emits 7-bit ASCII; bytes
// outside the printable range are replaced with '?' so a corrupted name can
// never break downstream formatting.
func (r *Reader) Str() (string, error) {
	start := r.pos
	for i := start; i < len(r.data); i++ {
		if r.data[i] == 0 {
			buf := make([]byte, i-start)
			for j, b := range r.data[start:i] {
				if b < 0x20 || b > 0x7E {
					b = '?'
				}
				buf[j] = b
			}
			r.pos = i + 1
			return string(buf), nil
		}
	}
	return "", ErrUnterminated
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Rest returns all unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.data[r.pos:] }
