// Package backend implements the UDP control channel for front-end clients
// (debuggers, test harnesses, visualizers). Each datagram is independent and
// starts with a channel selector and a sequence byte. One front-end may be
// attached at a time; every decoded non-informational trace line is
// forwarded to it as a screen-text datagram.
package backend

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/statetrace/spyglass/internal/trace"
)

// Channel selector bytes of the front-end datagram protocol.
const (
	ChanAttach     = 1
	ChanDetach     = 2
	ChanKeepAlive  = 3
	ChanCommand    = 4
	ChanDictRead   = 5
	ChanDictWrite  = 6
	ChanScreenText = 7
)

// Params collects the collaborators of the back-end.
type Params struct {
	// Conn is the UDP socket shared with the link-layer reader.
	Conn *net.UDPConn
	// Logger records operational events.
	Logger *slog.Logger
	// Version returns the protocol version currently in effect.
	Version func() uint16
	// Session is the identity of this Spyglass run, reported to clients.
	Session string
	// InjectCommand seals a command body received from the front-end and
	// sends it to the target.
	InjectCommand func(typ byte, payload []byte) error
	// SaveDict and LoadDict persist and reload the dictionaries.
	SaveDict func() error
	LoadDict func() error
	// Emit publishes a line into the normal output fan-out.
	Emit func(trace.Line)
}

// BackEnd parses front-end datagrams and forwards trace lines. Driven only
// from the event-loop goroutine.
type BackEnd struct {
	p Params

	attached *net.UDPAddr
	seq      uint8
}

// New returns a BackEnd ready to handle datagrams.
func New(p Params) *BackEnd {
	return &BackEnd{p: p}
}

// Attached reports whether a front-end is currently attached.
func (b *BackEnd) Attached() bool { return b.attached != nil }

// HandleDatagram processes one datagram from addr. Malformed datagrams are
// dropped with a log entry; the protocol offers no error reply.
func (b *BackEnd) HandleDatagram(data []byte, addr *net.UDPAddr) {
	if len(data) < 2 {
		b.p.Logger.Warn("runt front-end datagram",
			slog.Int("len", len(data)), slog.String("from", addr.String()))
		return
	}
	channel, payload := data[0], data[2:]

	switch channel {
	case ChanAttach:
		b.attach(addr)

	case ChanDetach:
		if b.attached != nil && sameAddr(b.attached, addr) {
			b.p.Logger.Info("front-end detached", slog.String("addr", addr.String()))
			b.attached = nil
		}

	case ChanKeepAlive:
		b.sendStatus(addr, ChanKeepAlive)

	case ChanCommand:
		if len(payload) < 1 {
			b.p.Logger.Warn("empty command datagram", slog.String("from", addr.String()))
			return
		}
		if err := b.p.InjectCommand(payload[0], payload[1:]); err != nil {
			b.p.Emit(trace.Line{Type: trace.ErrLine,
				Text: fmt.Sprintf("front-end command 0x%02X failed: %v", payload[0], err)})
		}

	case ChanDictRead:
		if err := b.p.LoadDict(); err != nil {
			b.p.Emit(trace.Line{Type: trace.ErrLine,
				Text: fmt.Sprintf("dictionary read failed: %v", err)})
		}

	case ChanDictWrite:
		if err := b.p.SaveDict(); err != nil {
			b.p.Emit(trace.Line{Type: trace.ErrLine,
				Text: fmt.Sprintf("dictionary write failed: %v", err)})
		}

	case ChanScreenText:
		// The front-end asks us to show a line of its own.
		b.p.Emit(trace.Line{Type: trace.InfLine, Text: string(payload)})

	default:
		b.p.Logger.Warn("unknown front-end channel",
			slog.Int("channel", int(channel)), slog.String("from", addr.String()))
	}
}

// attach registers addr as the front-end, replacing a previous one.
func (b *BackEnd) attach(addr *net.UDPAddr) {
	if b.attached != nil && !sameAddr(b.attached, addr) {
		b.p.Emit(trace.Line{Type: trace.WarnLine,
			Text: fmt.Sprintf("front-end %s replaced by %s", b.attached, addr)})
	}
	b.attached = addr
	b.p.Logger.Info("front-end attached", slog.String("addr", addr.String()))
	b.sendStatus(addr, ChanAttach)
}

// sendStatus replies with the version and session identity.
func (b *BackEnd) sendStatus(addr *net.UDPAddr, channel byte) {
	v := b.p.Version()
	payload := append([]byte{byte(v), byte(v >> 8)}, b.p.Session...)
	b.send(addr, channel, payload)
}

// ForwardLine sends one decoded line to the attached front-end as a
// screen-text datagram. The router has already filtered INF lines out.
func (b *BackEnd) ForwardLine(l trace.Line) {
	if b.attached == nil {
		return
	}
	payload := append([]byte{byte(l.Type)}, l.Text...)
	b.send(b.attached, ChanScreenText, payload)
}

// send emits one datagram with the next outbound sequence number. A send
// failure detaches nobody: UDP loss is expected and the keep-alive cycle
// re-establishes liveness.
func (b *BackEnd) send(addr *net.UDPAddr, channel byte, payload []byte) {
	dgram := append([]byte{channel, b.seq}, payload...)
	b.seq++
	if _, err := b.p.Conn.WriteToUDP(dgram, addr); err != nil {
		b.p.Logger.Error("front-end send failed",
			slog.String("addr", addr.String()), slog.Any("error", err))
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
