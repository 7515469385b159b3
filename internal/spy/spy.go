// Package spy wires the Spyglass pipeline together — link mux, framer,
// interpreter, dictionaries, output router, command encoder and back-end —
// and runs the single-threaded event loop that drives it. All mutable trace
// state is owned here and touched only from the loop goroutine.
package spy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/statetrace/spyglass/internal/backend"
	"github.com/statetrace/spyglass/internal/command"
	"github.com/statetrace/spyglass/internal/config"
	"github.com/statetrace/spyglass/internal/dict"
	"github.com/statetrace/spyglass/internal/frame"
	"github.com/statetrace/spyglass/internal/link"
	"github.com/statetrace/spyglass/internal/metrics"
	"github.com/statetrace/spyglass/internal/sink"
	"github.com/statetrace/spyglass/internal/trace"
)

// Version is the Spyglass tool version reported in the intro banner.
const Version = "1.0.0"

// Spy owns the complete receive/decode/dispatch pipeline for one session.
type Spy struct {
	cfg     *config.Config
	logger  *slog.Logger
	stdout  io.Writer
	session string

	dicts  *dict.Store
	router *sink.Router
	interp *trace.Interpreter
	framer *frame.Framer
	enc    *command.Encoder
	mux    *link.Mux
	be     *backend.BackEnd
	met    *metrics.Set

	dictFile string
	cleaned  bool
}

// Option configures optional collaborators of a Spy.
type Option func(*Spy)

// WithStdout redirects the decoded-line output, mainly for tests.
func WithStdout(w io.Writer) Option {
	return func(s *Spy) { s.stdout = w }
}

// WithMetrics installs the Prometheus counter set.
func WithMetrics(m *metrics.Set) Option {
	return func(s *Spy) { s.met = m }
}

// WithSession fixes the session identity instead of generating one.
func WithSession(id string) Option {
	return func(s *Spy) { s.session = id }
}

// New assembles the pipeline around the given link mux. The mux must
// already carry the target transport; auxiliary sources (keyboard,
// front-end socket) may be added before Run.
func New(cfg *config.Config, logger *slog.Logger, mux *link.Mux, opts ...Option) *Spy {
	s := &Spy{
		cfg:     cfg,
		logger:  logger,
		stdout:  os.Stdout,
		session: uuid.NewString(),
		mux:     mux,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dicts = dict.NewStore()
	s.router = sink.NewRouter(logger, s.stdout, cfg.Quiet)
	s.interp = trace.NewInterpreter(cfg, s.dicts, s.emit)
	s.interp.SetMatlab(s.router)
	s.interp.SetSequence(s.router, strings.Split(cfg.SeqList, ","))
	s.framer = frame.NewFramer(s.interp.Process, s.frameWarn)
	s.enc = command.NewEncoder(cfg)

	if s.met != nil {
		s.interp.OnRecord = func(uint8) { s.met.FramesDecoded.Inc() }
		s.interp.OnLost = func(n uint8) { s.met.RecordsLost.Add(float64(n)) }
	}

	s.dictFile = cfg.DictFile
	if s.dictFile == "?" {
		s.dictFile = fmt.Sprintf("spyglass%s.dic", tstampStr())
	}

	return s
}

// Session returns the identity of this run.
func (s *Spy) Session() string { return s.session }

// emit is the single funnel for decoded lines: counts them and hands them
// to the router for fan-out.
func (s *Spy) emit(l trace.Line) {
	if s.met != nil {
		s.met.Lines.WithLabelValues(l.Type.String()).Inc()
	}
	s.router.Emit(l)
}

// frameWarn surfaces framing anomalies as WARN lines.
func (s *Spy) frameWarn(err error) {
	if s.met != nil {
		s.met.FramesRejected.WithLabelValues(rejectReason(err)).Inc()
	}
	s.emit(trace.Line{Type: trace.WarnLine, Text: err.Error()})
}

func rejectReason(err error) string {
	switch {
	case strings.Contains(err.Error(), "checksum"):
		return "checksum"
	case strings.Contains(err.Error(), "escape"):
		return "escape"
	case strings.Contains(err.Error(), "minimum"):
		return "short"
	default:
		return "overflow"
	}
}

// Banner prints the startup intro.
func (s *Spy) Banner() {
	s.router.Banner(fmt.Sprintf(
		"Spyglass %s -- embedded trace spy\nSession %s, started %s",
		Version, s.session, time.Now().Format("2006-01-02 15:04:05")))
}

// SetupSinks opens the sinks requested on the command line. Unlike the
// runtime toggles, a startup open failure aborts the session.
func (s *Spy) SetupSinks() error {
	ts := tstampStr()
	if s.cfg.TextOut {
		if err := s.router.OpenText(fmt.Sprintf("spyglass%s.txt", ts)); err != nil {
			return err
		}
	}
	if s.cfg.BinaryOut {
		if err := s.router.OpenBinary(fmt.Sprintf("spyglass%s.bin", ts)); err != nil {
			return err
		}
	}
	if s.cfg.MatlabOut {
		if err := s.router.OpenMatlab(fmt.Sprintf("spyglass%s.mat", ts)); err != nil {
			return err
		}
	}
	if s.cfg.SeqList != "" {
		if err := s.router.OpenSequence(fmt.Sprintf("spyglass%s.seq", ts)); err != nil {
			return err
		}
	}
	return nil
}

// AttachBackEnd wires the front-end control channel over the shared UDP
// socket and routes decoded lines to the attached client.
func (s *Spy) AttachBackEnd(conn *net.UDPConn) {
	s.be = backend.New(backend.Params{
		Conn:    conn,
		Logger:  s.logger,
		Version: s.interp.Version,
		Session: s.session,
		InjectCommand: func(typ byte, payload []byte) error {
			return s.send(s.enc.Raw(typ, payload))
		},
		SaveDict: s.saveDicts,
		LoadDict: s.loadDicts,
		Emit:     s.emit,
	})
	s.router.SetForward(s.be.ForwardLine)
}

// LoadDictionaries reloads persisted dictionaries at startup, after any
// width overrides are final. A missing file is not an error on first run.
func (s *Spy) LoadDictionaries() {
	if s.dictFile == "" {
		return
	}
	if _, err := os.Stat(s.dictFile); err != nil {
		return
	}
	if err := s.loadDicts(); err != nil {
		s.emit(trace.Line{Type: trace.ErrLine, Text: err.Error()})
	}
}

func (s *Spy) saveDicts() error {
	if s.dictFile == "" {
		return fmt.Errorf("spy: no dictionary file configured (-d)")
	}
	if err := s.dicts.SaveFile(s.dictFile); err != nil {
		return err
	}
	s.emit(trace.Line{Type: trace.AckLine,
		Text: fmt.Sprintf("Dictionaries saved to %s (%d entries)", s.dictFile, s.dicts.Len())})
	return nil
}

func (s *Spy) loadDicts() error {
	if s.dictFile == "" {
		return fmt.Errorf("spy: no dictionary file configured (-d)")
	}
	if err := s.dicts.LoadFile(s.dictFile, s.logger); err != nil {
		return err
	}
	s.emit(trace.Line{Type: trace.AckLine,
		Text: fmt.Sprintf("Dictionaries loaded from %s (%d entries)", s.dictFile, s.dicts.Len())})
	return nil
}

// send encodes nothing itself; it pushes an already sealed frame to the
// target and counts it.
func (s *Spy) send(wire []byte) error {
	if err := s.mux.SendToTarget(wire); err != nil {
		return err
	}
	if s.met != nil {
		s.met.CommandsSent.Inc()
	}
	return nil
}

// Run pumps the event loop until a terminal condition and returns the
// process exit code. Open sinks are drained before returning.
func (s *Spy) Run() int {
	defer s.cleanup()

	for {
		ev := s.mux.NextEvent()
		switch ev.Type {
		case link.NoEvent:
			// All inputs timed out this time around.

		case link.TargetBytes:
			if s.met != nil {
				s.met.BytesReceived.Add(float64(len(ev.Data)))
			}
			// The binary capture stores the stream exactly as
			// received, before any decoding.
			s.router.WriteRaw(ev.Data)
			s.framer.Feed(ev.Data)

		case link.FrontEndBytes:
			if s.be != nil {
				s.be.HandleDatagram(ev.Data, ev.Addr)
			}

		case link.Keystroke:
			if len(ev.Data) == 1 && !s.Command(ev.Data[0]) {
				return 0
			}

		case link.Done:
			s.logger.Info("input finished")
			return 0

		case link.Error:
			s.logger.Error("link failure", slog.Any("error", ev.Err))
			return 1
		}
	}
}

// cleanup flushes and closes everything that remains open. Idempotent.
func (s *Spy) cleanup() {
	if s.cleaned {
		return
	}
	s.cleaned = true
	s.framer.Reset()
	s.router.CloseAll()
	s.mux.Close()
	s.logger.Info("spyglass done")
}

// tstampStr names output files after the wall clock, the way trace sessions
// have always been archived.
func tstampStr() string {
	return time.Now().Format("060102_150405")
}
