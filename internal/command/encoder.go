// Package command builds the outgoing control frames sent to the target:
// reset, info, tick, peek/poke, filters, test-support and event-injection
// commands. Frames are packed with the target's configured field widths and
// endianness and carry an independent wrapping sequence number, then pass
// through the same escape/checksum encoding the inbound framer reverses.
package command

import (
	"github.com/statetrace/spyglass/internal/config"
	"github.com/statetrace/spyglass/internal/frame"
)

// Outbound command-type bytes. Like the record types, these are a wire
// contract with the target.
const (
	TypeReset        = 0
	TypeInfo         = 1
	TypeCmd          = 2
	TypePeek         = 3
	TypePoke         = 4
	TypeFill         = 5
	TypeTestSetup    = 6
	TypeTestTeardown = 7
	TypeTestProbe    = 8
	TypeTestContinue = 9
	TypeTick         = 10
	TypeGlbFilter    = 11
	TypeLocFilter    = 12
	TypeAoFilter     = 13
	TypeCurrObj      = 14
	TypeQueryCurr    = 15
	TypeEvent        = 16
	TypeTimeSet      = 17
)

// GlbFilterLen is the size of the global-filter bitmask payload.
const GlbFilterLen = 16

// Encoder builds outbound command frames. Not safe for concurrent use; the
// event loop is its only caller.
type Encoder struct {
	objPtr    uint8
	funPtr    uint8
	sig       uint8
	tstamp    uint8
	bigEndian bool

	seq uint8
}

// NewEncoder returns an Encoder packing fields per the target description
// in cfg.
func NewEncoder(cfg *config.Config) *Encoder {
	return &Encoder{
		objPtr:    cfg.ObjPtrSize,
		funPtr:    cfg.FunPtrSize,
		sig:       cfg.SigSize,
		tstamp:    cfg.TstampSize,
		bigEndian: cfg.BigEndian,
	}
}

// Seq returns the sequence number the next frame will carry.
func (e *Encoder) Seq() uint8 { return e.seq }

// finish prepends nothing and seals body into a wire frame, consuming one
// sequence number.
func (e *Encoder) finish(body []byte) []byte {
	e.seq++
	return frame.Encode(body)
}

// head starts a frame body with the command type and the next sequence
// number.
func (e *Encoder) head(typ byte) []byte {
	return append(make([]byte, 0, 32), typ, e.seq)
}

// appendUint appends v at the given byte width in the configured order.
func (e *Encoder) appendUint(dst []byte, v uint64, width uint8) []byte {
	n := int(width)
	if e.bigEndian {
		for i := n - 1; i >= 0; i-- {
			dst = append(dst, byte(v>>(8*i)))
		}
		return dst
	}
	for i := 0; i < n; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

// Reset encodes the target-reset command.
func (e *Encoder) Reset() []byte {
	return e.finish(e.head(TypeReset))
}

// Info encodes the target-info request.
func (e *Encoder) Info() []byte {
	return e.finish(e.head(TypeInfo))
}

// Tick encodes the clock-tick command for the given tick rate.
func (e *Encoder) Tick(rate uint8) []byte {
	return e.finish(append(e.head(TypeTick), rate))
}

// Cmd encodes an application-specific command with three parameters.
func (e *Encoder) Cmd(id uint8, p1, p2, p3 uint32) []byte {
	b := append(e.head(TypeCmd), id)
	b = e.appendUint(b, uint64(p1), 4)
	b = e.appendUint(b, uint64(p2), 4)
	b = e.appendUint(b, uint64(p3), 4)
	return e.finish(b)
}

// Peek encodes a memory-read request: n units starting offset bytes past
// addr.
func (e *Encoder) Peek(addr uint64, offset uint16, n uint8) []byte {
	b := e.appendUint(e.head(TypePeek), addr, e.objPtr)
	b = e.appendUint(b, uint64(offset), 2)
	return e.finish(append(b, n))
}

// Poke encodes a memory-write request of data starting offset bytes past
// addr.
func (e *Encoder) Poke(addr uint64, offset uint16, data []byte) []byte {
	b := e.appendUint(e.head(TypePoke), addr, e.objPtr)
	b = e.appendUint(b, uint64(offset), 2)
	b = append(b, uint8(len(data)))
	return e.finish(append(b, data...))
}

// Fill encodes a memory-fill request: n copies of fill starting offset
// bytes past addr.
func (e *Encoder) Fill(addr uint64, offset uint16, fill uint8, n uint16) []byte {
	b := e.appendUint(e.head(TypeFill), addr, e.objPtr)
	b = e.appendUint(b, uint64(offset), 2)
	b = append(b, fill)
	return e.finish(e.appendUint(b, uint64(n), 2))
}

// TestSetup encodes the unit-test fixture setup command.
func (e *Encoder) TestSetup() []byte {
	return e.finish(e.head(TypeTestSetup))
}

// TestTeardown encodes the unit-test fixture teardown command.
func (e *Encoder) TestTeardown() []byte {
	return e.finish(e.head(TypeTestTeardown))
}

// TestProbe encodes a test-probe definition for the given function.
func (e *Encoder) TestProbe(fun uint64, value uint32) []byte {
	b := e.appendUint(e.head(TypeTestProbe), uint64(value), 4)
	return e.finish(e.appendUint(b, fun, e.funPtr))
}

// TestContinue encodes the continue-from-test-pause command.
func (e *Encoder) TestContinue() []byte {
	return e.finish(e.head(TypeTestContinue))
}

// GlbFilter encodes the global record-filter bitmask.
func (e *Encoder) GlbFilter(mask [GlbFilterLen]byte) []byte {
	return e.finish(append(e.head(TypeGlbFilter), mask[:]...))
}

// LocFilter encodes a local filter on one object of the given kind.
func (e *Encoder) LocFilter(kind uint8, obj uint64) []byte {
	b := append(e.head(TypeLocFilter), kind)
	return e.finish(e.appendUint(b, obj, e.objPtr))
}

// AoFilter encodes the active-object filter.
func (e *Encoder) AoFilter(obj uint64) []byte {
	return e.finish(e.appendUint(e.head(TypeAoFilter), obj, e.objPtr))
}

// CurrObj encodes the current-object designation for the given kind.
func (e *Encoder) CurrObj(kind uint8, obj uint64) []byte {
	b := append(e.head(TypeCurrObj), kind)
	return e.finish(e.appendUint(b, obj, e.objPtr))
}

// QueryCurr encodes a query of the current object of the given kind.
func (e *Encoder) QueryCurr(kind uint8) []byte {
	return e.finish(append(e.head(TypeQueryCurr), kind))
}

// Event encodes an event injection: signal sig delivered at the given
// priority with an opaque parameter block.
func (e *Encoder) Event(prio uint8, sig uint64, params []byte) []byte {
	b := append(e.head(TypeEvent), prio)
	b = e.appendUint(b, sig, e.sig)
	b = e.appendUint(b, uint64(len(params)), 2)
	return e.finish(append(b, params...))
}

// TimeSet encodes the target-time set command.
func (e *Encoder) TimeSet(ts uint64) []byte {
	return e.finish(e.appendUint(e.head(TypeTimeSet), ts, e.tstamp))
}

// Raw seals an externally assembled command body (type byte plus payload,
// without a sequence number) into a wire frame. The front-end command
// channel uses this to inject arbitrary target commands.
func (e *Encoder) Raw(typ byte, payload []byte) []byte {
	return e.finish(append(e.head(typ), payload...))
}
