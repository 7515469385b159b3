// Package sink fans decoded trace lines out to their consumers: stdout
// (throttled by quiet mode), the text log file, the raw binary capture, the
// Matlab numeric file, the sequence-diagram file, and the attached front-end.
// All sinks are owned by the Router and live for the duration of the event
// loop; open and close are toggled by keystroke commands.
//
// The Router is driven only from the event-loop goroutine.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/statetrace/spyglass/internal/trace"
)

// fileSink is one buffered output file.
type fileSink struct {
	f    *os.File
	w    *bufio.Writer
	name string
}

func openFileSink(path string) (*fileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %q: %w", path, err)
	}
	return &fileSink{f: f, w: bufio.NewWriter(f), name: path}, nil
}

// close flushes and commits the sink. Safe on nil.
func (s *fileSink) close() error {
	if s == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("sink: flush %q: %w", s.name, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("sink: close %q: %w", s.name, err)
	}
	return nil
}

// Router owns every output sink and applies the routing policy per line
// type: INF lines never reach the front-end forward; ERR and WARN lines
// bypass quiet mode.
type Router struct {
	logger *slog.Logger
	stdout io.Writer

	quiet      int // -1 off, 0 all suppressed, n>0 one line in n
	quietCtr   int
	savedQuiet int
	dots       bool // a dot line is open on stdout

	text   *fileSink
	binary *fileSink
	matlab *fileSink
	seq    *fileSink

	forward func(trace.Line)
}

// NewRouter returns a Router writing to stdout. quiet is the initial quiet
// mode from the command line.
func NewRouter(logger *slog.Logger, stdout io.Writer, quiet int) *Router {
	saved := quiet
	if saved < 0 {
		saved = 0
	}
	return &Router{
		logger:     logger,
		stdout:     stdout,
		quiet:      quiet,
		savedQuiet: saved,
	}
}

// SetForward installs the front-end forwarding hook. nil disables it.
func (r *Router) SetForward(fn func(trace.Line)) { r.forward = fn }

// Quiet returns the current quiet mode value.
func (r *Router) Quiet() int { return r.quiet }

// ToggleQuiet flips quiet mode between off and the last non-negative value,
// and returns the new mode.
func (r *Router) ToggleQuiet() int {
	if r.quiet < 0 {
		r.quiet = r.savedQuiet
		r.quietCtr = 0
	} else {
		r.savedQuiet = r.quiet
		r.quiet = -1
	}
	return r.quiet
}

// Emit routes one decoded line to stdout, the text file and the front-end
// according to its type and the quiet mode.
func (r *Router) Emit(l trace.Line) {
	r.emitStdout(l)

	if r.text != nil {
		// The text file receives every line regardless of quiet mode.
		fmt.Fprintln(r.text.w, l.Text)
	}

	if r.forward != nil && l.Type != trace.InfLine {
		r.forward(l)
	}
}

// emitStdout applies quiet-mode throttling. Regular lines are counted; all
// other types print unconditionally.
func (r *Router) emitStdout(l trace.Line) {
	if l.Type == trace.RegLine && r.quiet >= 0 {
		print := false
		if r.quiet > 0 {
			if r.quietCtr == 0 {
				print = true
				r.quietCtr = r.quiet
			}
			r.quietCtr--
		}
		if !print {
			fmt.Fprint(r.stdout, ".")
			r.dots = true
			return
		}
	}
	if r.dots {
		fmt.Fprintln(r.stdout)
		r.dots = false
	}
	fmt.Fprintln(r.stdout, l.Text)
}

// Banner writes an informational block to stdout and, when open, the text
// file, bypassing quiet mode.
func (r *Router) Banner(text string) {
	if r.dots {
		fmt.Fprintln(r.stdout)
		r.dots = false
	}
	fmt.Fprintln(r.stdout, text)
	if r.text != nil {
		fmt.Fprintln(r.text.w, text)
	}
}

// ---------------------------------------------------------------------------
// Text sink
// ---------------------------------------------------------------------------

// OpenText opens the text log sink at path.
func (r *Router) OpenText(path string) error {
	if r.text != nil {
		return fmt.Errorf("sink: text output already open at %q", r.text.name)
	}
	s, err := openFileSink(path)
	if err != nil {
		return err
	}
	r.text = s
	return nil
}

// CloseText flushes and closes the text sink.
func (r *Router) CloseText() error {
	s := r.text
	r.text = nil
	return s.close()
}

// TextName returns the open text file name, or "OFF".
func (r *Router) TextName() string { return sinkName(r.text) }

// ---------------------------------------------------------------------------
// Binary capture sink
// ---------------------------------------------------------------------------

// OpenBinary opens the raw binary capture sink at path.
func (r *Router) OpenBinary(path string) error {
	if r.binary != nil {
		return fmt.Errorf("sink: binary output already open at %q", r.binary.name)
	}
	s, err := openFileSink(path)
	if err != nil {
		return err
	}
	r.binary = s
	return nil
}

// CloseBinary flushes and closes the binary sink.
func (r *Router) CloseBinary() error {
	s := r.binary
	r.binary = nil
	return s.close()
}

// BinaryName returns the open binary file name, or "OFF".
func (r *Router) BinaryName() string { return sinkName(r.binary) }

// WriteRaw appends raw frame bytes, exactly as received from the link, to
// the binary capture when it is open.
func (r *Router) WriteRaw(b []byte) {
	if r.binary == nil {
		return
	}
	if _, err := r.binary.w.Write(b); err != nil {
		r.logger.Error("binary capture write failed",
			slog.String("file", r.binary.name), slog.Any("error", err))
	}
}

// ---------------------------------------------------------------------------
// Matlab sink
// ---------------------------------------------------------------------------

// OpenMatlab opens the Matlab numeric sink at path.
func (r *Router) OpenMatlab(path string) error {
	if r.matlab != nil {
		return fmt.Errorf("sink: matlab output already open at %q", r.matlab.name)
	}
	s, err := openFileSink(path)
	if err != nil {
		return err
	}
	r.matlab = s
	return nil
}

// CloseMatlab flushes and closes the Matlab sink.
func (r *Router) CloseMatlab() error {
	s := r.matlab
	r.matlab = nil
	return s.close()
}

// MatlabName returns the open Matlab file name, or "OFF".
func (r *Router) MatlabName() string { return sinkName(r.matlab) }

// MatlabOpen reports whether the Matlab sink is accepting rows.
func (r *Router) MatlabOpen() bool { return r.matlab != nil }

// Row implements trace.MatlabSink: one numeric row per record, columns
// separated by single spaces. The output depends only on the record stream,
// so re-parsing the same capture produces byte-identical files.
func (r *Router) Row(rec uint8, ts uint64, vals []uint64) error {
	if r.matlab == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d", rec, ts)
	for _, v := range vals {
		fmt.Fprintf(&b, " %d", v)
	}
	_, err := fmt.Fprintln(r.matlab.w, b.String())
	return err
}

// ---------------------------------------------------------------------------
// Sequence-diagram sink
// ---------------------------------------------------------------------------

// OpenSequence opens the sequence-diagram sink at path.
func (r *Router) OpenSequence(path string) error {
	if r.seq != nil {
		return fmt.Errorf("sink: sequence output already open at %q", r.seq.name)
	}
	s, err := openFileSink(path)
	if err != nil {
		return err
	}
	r.seq = s
	return nil
}

// CloseSequence flushes and closes the sequence sink.
func (r *Router) CloseSequence() error {
	s := r.seq
	r.seq = nil
	return s.close()
}

// SequenceName returns the open sequence file name, or "OFF".
func (r *Router) SequenceName() string { return sinkName(r.seq) }

// Message implements trace.SequenceSink: one diagram row per forwarded
// event.
func (r *Router) Message(ts uint64, from, to, sig string) error {
	if r.seq == nil {
		return nil
	}
	_, err := fmt.Fprintf(r.seq.w, "%d %s -> %s %s\n", ts, from, to, sig)
	return err
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// CloseAll flushes and closes every open sink. It is idempotent and is the
// terminal step of the event loop.
func (r *Router) CloseAll() {
	for _, c := range []struct {
		name  string
		close func() error
	}{
		{"text", r.CloseText},
		{"binary", r.CloseBinary},
		{"matlab", r.CloseMatlab},
		{"sequence", r.CloseSequence},
	} {
		if err := c.close(); err != nil {
			r.logger.Error("closing sink failed",
				slog.String("sink", c.name), slog.Any("error", err))
		}
	}
	if r.dots {
		fmt.Fprintln(r.stdout)
		r.dots = false
	}
}

func sinkName(s *fileSink) string {
	if s == nil {
		return "OFF"
	}
	return s.name
}
