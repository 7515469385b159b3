package spy

import (
	"fmt"

	"github.com/statetrace/spyglass/internal/trace"
)

// kbdHelp is printed by the 'h' key and after an unrecognized one.
const kbdHelp = `Keyboard shortcuts:
KEY(s)            ACTION
-----------------------------------------------------------------
<Esc>/x/X         exit Spyglass
  h               display keyboard help and status
  c               clear the screen
  q               toggle quiet mode (no target trace output)
  r               send RESET command to the target
  i               send INFO request to the target
  t               send TICK[0] command to the target
  u               send TICK[1] command to the target
  d               save dictionaries to a file
  o               toggle screen file output (close/re-open)
  s/b             toggle binary file output (close/re-open)
  m               toggle Matlab file output (close/re-open)
  g               toggle sequence file output (close/re-open)`

// Command executes one keystroke and reports whether the event loop should
// keep running.
func (s *Spy) Command(key byte) bool {
	switch key {
	case 'x', 'X', 0x1B: // Esc
		return false

	case 'h':
		s.status()

	case 'c':
		// ANSI clear; the PAL keyboard put the terminal in raw mode,
		// which every terminal supporting that also handles.
		fmt.Fprint(s.stdout, "\033[2J\033[H")

	case 'q':
		if q := s.router.ToggleQuiet(); q < 0 {
			s.ack("Quiet Mode [q] OFF")
		} else {
			s.ack(fmt.Sprintf("Quiet Mode [q] %d", q))
		}

	case 'r':
		s.sendAck("RESET", s.enc.Reset())
	case 'i':
		s.sendAck("INFO", s.enc.Info())
	case 't':
		s.sendAck("TICK[0]", s.enc.Tick(0))
	case 'u':
		s.sendAck("TICK[1]", s.enc.Tick(1))

	case 'd':
		if err := s.saveDicts(); err != nil {
			s.emit(trace.Line{Type: trace.ErrLine, Text: err.Error()})
		}

	case 'o':
		s.toggle("Screen Output [o]", s.router.TextName,
			func() error { return s.router.OpenText(fmt.Sprintf("spyglass%s.txt", tstampStr())) },
			s.router.CloseText)
	case 's', 'b':
		s.toggle("Binary Output [s]", s.router.BinaryName,
			func() error { return s.router.OpenBinary(fmt.Sprintf("spyglass%s.bin", tstampStr())) },
			s.router.CloseBinary)
	case 'm':
		s.toggle("Matlab Output [m]", s.router.MatlabName,
			func() error { return s.router.OpenMatlab(fmt.Sprintf("spyglass%s.mat", tstampStr())) },
			s.router.CloseMatlab)
	case 'g':
		if s.cfg.SeqList == "" {
			s.emit(trace.Line{Type: trace.ErrLine,
				Text: "sequence object list not provided (no -g option)"})
			break
		}
		s.toggle("Sequence Output [g]", s.router.SequenceName,
			func() error { return s.router.OpenSequence(fmt.Sprintf("spyglass%s.seq", tstampStr())) },
			s.router.CloseSequence)

	default:
		s.emit(trace.Line{Type: trace.InfLine,
			Text: fmt.Sprintf("unrecognized command '%c'", key)})
		s.router.Banner(kbdHelp)
	}
	return true
}

// status shows the keyboard help and the current sink/quiet state.
func (s *Spy) status() {
	s.router.Banner(kbdHelp)
	quiet := "OFF"
	if q := s.router.Quiet(); q >= 0 {
		quiet = fmt.Sprintf("%d", q)
	}
	s.router.Banner(fmt.Sprintf(
		"Quiet Mode      [q]: %s\n"+
			"Screen   Output [o]: %s\n"+
			"Binary   Output [s]: %s\n"+
			"Matlab   Output [m]: %s\n"+
			"Sequence Output [g]: %s",
		quiet, s.router.TextName(), s.router.BinaryName(),
		s.router.MatlabName(), s.router.SequenceName()))
}

// ack confirms a local action.
func (s *Spy) ack(text string) {
	s.emit(trace.Line{Type: trace.AckLine, Text: text})
}

// sendAck sends an encoded command frame and confirms the outcome. A write
// failure is reported and the session continues.
func (s *Spy) sendAck(name string, wire []byte) {
	if err := s.send(wire); err != nil {
		s.emit(trace.Line{Type: trace.ErrLine,
			Text: fmt.Sprintf("sending %s to the target failed: %v", name, err)})
		return
	}
	s.ack(fmt.Sprintf("Sent %s to the target", name))
}

// toggle closes an open sink or opens a closed one with a fresh timestamped
// name. An open failure leaves the sink off with an ERR line.
func (s *Spy) toggle(label string, name func() string, open func() error, shut func() error) {
	if name() != "OFF" {
		if err := shut(); err != nil {
			s.emit(trace.Line{Type: trace.ErrLine, Text: err.Error()})
		}
	} else if err := open(); err != nil {
		s.emit(trace.Line{Type: trace.ErrLine, Text: err.Error()})
	}
	s.ack(fmt.Sprintf("%s File=%s", label, name()))
}
