package trace

import (
	"fmt"
	"strings"
	"time"

	"github.com/statetrace/spyglass/internal/config"
	"github.com/statetrace/spyglass/internal/dict"
	"github.com/statetrace/spyglass/internal/frame"
)

// MatlabSink receives one numeric row per timestamped record when the
// Matlab output is open.
type MatlabSink interface {
	Row(rec uint8, ts uint64, vals []uint64) error
}

// SequenceSink receives one message row per event-passing record whose
// endpoints intersect the configured object list.
type SequenceSink interface {
	Message(ts uint64, from, to, sig string) error
}

// widths is the mutable copy of the target field sizes. It starts from the
// session configuration and may be overridden by a target-info record.
type widths struct {
	tstamp   uint8
	objPtr   uint8
	funPtr   uint8
	sig      uint8
	evt      uint8
	queueCtr uint8
	poolCtr  uint8
	poolBlk  uint8
	tevtCtr  uint8
}

// nameCol is the width of the record-name column in formatted lines.
const nameCol = 10

// handler decodes the payload of one record type. r is positioned past the
// type and sequence bytes; handlers read all their fields from r, including
// the timestamp of timestamped records.
type handler func(i *Interpreter, seq uint8, r *frame.Reader) error

// Interpreter turns decoded frames into formatted lines and structured side
// effects. It must only be used from the event-loop goroutine.
type Interpreter struct {
	dicts *dict.Store
	emit  func(Line)

	version   uint16
	bigEndian bool
	w         widths

	handlers map[uint8]handler

	matlab  MatlabSink
	seqSink SequenceSink
	seqList map[string]bool

	seqExpected uint8
	seqStarted  bool

	lastTs   uint64
	lastWall time.Time

	// OnRecord and OnLost are optional instrumentation hooks.
	OnRecord func(rec uint8)
	OnLost   func(n uint8)
}

// NewInterpreter returns an Interpreter configured for the given target
// description, resolving names through dicts and delivering every produced
// line to emit.
func NewInterpreter(cfg *config.Config, dicts *dict.Store, emit func(Line)) *Interpreter {
	i := &Interpreter{
		dicts:     dicts,
		emit:      emit,
		version:   cfg.Version,
		bigEndian: cfg.BigEndian,
		w: widths{
			tstamp:   cfg.TstampSize,
			objPtr:   cfg.ObjPtrSize,
			funPtr:   cfg.FunPtrSize,
			sig:      cfg.SigSize,
			evt:      cfg.EvtSize,
			queueCtr: cfg.QueueCtrSize,
			poolCtr:  cfg.PoolCtrSize,
			poolBlk:  cfg.PoolBlkSize,
			tevtCtr:  cfg.TevtCtrSize,
		},
	}
	i.handlers = map[uint8]handler{
		RecEmpty:      (*Interpreter).recEmpty,
		RecReset:      (*Interpreter).recReset,
		RecVersion:    (*Interpreter).recVersion,
		RecTargetInfo: (*Interpreter).recTargetInfo,
		RecTargetDone: (*Interpreter).recTargetDone,

		RecObjDict:  (*Interpreter).recObjDict,
		RecFunDict:  (*Interpreter).recFunDict,
		RecSigDict:  (*Interpreter).recSigDict,
		RecUsrDict:  (*Interpreter).recUsrDict,
		RecEnumDict: (*Interpreter).recEnumDict,

		RecSmTopInit:    (*Interpreter).recSmTopInit,
		RecSmStateInit:  (*Interpreter).recSmStateInit,
		RecSmStateEntry: (*Interpreter).recSmStateEntry,
		RecSmStateExit:  (*Interpreter).recSmStateExit,
		RecSmTran:       (*Interpreter).recSmTran,
		RecSmInternTran: (*Interpreter).recSmInternTran,
		RecSmDispatch:   (*Interpreter).recSmDispatch,
		RecSmIgnored:    (*Interpreter).recSmIgnored,
		RecSmUnhandled:  (*Interpreter).recSmUnhandled,

		RecAoSubscribe:    (*Interpreter).recAoSubscribe,
		RecAoUnsubscribe:  (*Interpreter).recAoUnsubscribe,
		RecAoPostFIFO:     (*Interpreter).recAoPostFIFO,
		RecAoPostLIFO:     (*Interpreter).recAoPostLIFO,
		RecAoGet:          (*Interpreter).recAoGet,
		RecAoGetLast:      (*Interpreter).recAoGetLast,
		RecAoPublish:      (*Interpreter).recAoPublish,
		RecAoPostAttempt:  (*Interpreter).recAoPostAttempt,
		RecAoQueueAttempt: (*Interpreter).recAoQueueAttempt,

		RecTeArm:        (*Interpreter).recTeArm,
		RecTeDisarm:     (*Interpreter).recTeDisarm,
		RecTeAutoDisarm: (*Interpreter).recTeAutoDisarm,
		RecTeRearm:      (*Interpreter).recTeRearm,
		RecTePost:       (*Interpreter).recTePost,

		RecMpGet:        (*Interpreter).recMpGet,
		RecMpPut:        (*Interpreter).recMpPut,
		RecMpGetAttempt: (*Interpreter).recMpGetAttempt,

		RecSchedLock:   (*Interpreter).recSchedLock,
		RecSchedUnlock: (*Interpreter).recSchedUnlock,
		RecSchedNext:   (*Interpreter).recSchedNext,
		RecSchedIdle:   (*Interpreter).recSchedIdle,
		RecSchedResume: (*Interpreter).recSchedResume,
		RecIsrEntry:    (*Interpreter).recIsrEntry,
		RecIsrExit:     (*Interpreter).recIsrExit,

		RecAssert: (*Interpreter).recAssert,
	}
	return i
}

// SetMatlab installs (or removes, with nil) the Matlab side channel.
func (i *Interpreter) SetMatlab(m MatlabSink) { i.matlab = m }

// SetSequence installs the sequence-diagram side channel restricted to the
// named active objects. A nil sink or empty list disables the channel.
func (i *Interpreter) SetSequence(s SequenceSink, objects []string) {
	i.seqSink = s
	i.seqList = make(map[string]bool, len(objects))
	for _, o := range objects {
		if o = strings.TrimSpace(o); o != "" {
			i.seqList[o] = true
		}
	}
}

// TargetTime returns the most recent target timestamp and its wall-clock
// arrival time.
func (i *Interpreter) TargetTime() (uint64, time.Time) {
	return i.lastTs, i.lastWall
}

// Version returns the protocol version currently in effect, which a
// target-info record may have changed from the configured one.
func (i *Interpreter) Version() uint16 { return i.version }

// Process decodes one frame (type byte through last payload byte; the
// checksum has been verified and stripped by the framer). All side effects
// of the record are complete when Process returns.
func (i *Interpreter) Process(rec []byte) {
	if len(rec) < 2 {
		return
	}
	typ, seq := rec[0], rec[1]

	if i.OnRecord != nil {
		i.OnRecord(typ)
	}

	// Sequence continuity: a gap is reported but the stream continues.
	if i.seqStarted {
		if lost := seq - i.seqExpected; lost != 0 {
			i.line(WarnLine, i.blankTs(), "Dropped",
				fmt.Sprintf("Records lost: %d", lost))
			if i.OnLost != nil {
				i.OnLost(lost)
			}
		}
	}
	i.seqStarted = true
	i.seqExpected = seq + 1

	r := newRecordReader(rec, i.bigEndian)

	var err error
	if typ >= RecUserFirst && typ <= RecUserLast {
		err = i.processUser(typ, r)
	} else if h, ok := i.handlers[typ]; ok {
		err = h(i, seq, r)
	} else {
		i.emit(Line{WarnLine, fmt.Sprintf("%s %-*s type=0x%02X seq=%d",
			i.blankTs(), nameCol, "UnknownRec", typ, seq)})
		return
	}
	if err != nil {
		i.emit(Line{WarnLine, fmt.Sprintf("%s %-*s type=0x%02X seq=%d err=%v",
			i.blankTs(), nameCol, "BadRec", typ, seq, err)})
	}
}

// newRecordReader positions a cursor past the type and sequence bytes.
func newRecordReader(rec []byte, bigEndian bool) *frame.Reader {
	r := frame.NewReader(rec, bigEndian)
	r.Bytes(2) // type, seq
	return r
}

// ---------------------------------------------------------------------------
// Formatting helpers
// ---------------------------------------------------------------------------

// tsDigits maps the timestamp width to its decimal column width.
var tsDigits = map[uint8]int{1: 3, 2: 5, 4: 10}

// fmtTs renders ts as a zero-padded decimal field of the configured width.
func (i *Interpreter) fmtTs(ts uint64) string {
	return fmt.Sprintf("%0*d", tsDigits[i.w.tstamp], ts)
}

// blankTs renders the timestamp column of a record that carries none.
func (i *Interpreter) blankTs() string {
	return strings.Repeat(" ", tsDigits[i.w.tstamp])
}

// hexAt renders v as a hex literal at the native width of the field.
func hexAt(v uint64, width uint8) string {
	return fmt.Sprintf("0x%0*X", int(width)*2, v)
}

func (i *Interpreter) objName(ptr uint64) string {
	if n, ok := i.dicts.LookupObject(ptr); ok {
		return n
	}
	return hexAt(ptr, i.w.objPtr)
}

func (i *Interpreter) funName(ptr uint64) string {
	if n, ok := i.dicts.LookupFunction(ptr); ok {
		return n
	}
	return hexAt(ptr, i.w.funPtr)
}

func (i *Interpreter) sigName(sig, obj uint64) string {
	if n, ok := i.dicts.LookupSignal(sig, obj); ok {
		return n
	}
	return hexAt(sig, i.w.sig)
}

// line emits a formatted line with the standard timestamp and name columns.
func (i *Interpreter) line(t LineType, ts string, name string, rest string) {
	s := fmt.Sprintf("%s %-*s %s", ts, nameCol, name, rest)
	i.emit(Line{t, strings.TrimRight(s, " ")})
}

// stamp reads the leading timestamp of a timestamped record and tracks the
// target time.
func (i *Interpreter) stamp(r *frame.Reader) (uint64, error) {
	ts, err := r.Uint(i.w.tstamp)
	if err != nil {
		return 0, err
	}
	i.lastTs = ts
	i.lastWall = time.Now()
	return ts, nil
}

// row forwards one numeric row to the Matlab channel when it is open.
func (i *Interpreter) row(rec uint8, ts uint64, vals ...uint64) {
	if i.matlab != nil {
		i.matlab.Row(rec, ts, vals)
	}
}

// message forwards one sequence-diagram row when either endpoint is in the
// configured object list.
func (i *Interpreter) message(ts uint64, from, to, sig string) {
	if i.seqSink == nil {
		return
	}
	if !i.seqList[from] && !i.seqList[to] {
		return
	}
	i.seqSink.Message(ts, from, to, sig)
}

// ---------------------------------------------------------------------------
// Session records
// ---------------------------------------------------------------------------

func (i *Interpreter) recEmpty(uint8, *frame.Reader) error {
	// Padding record; carries nothing.
	return nil
}

func (i *Interpreter) recReset(uint8, *frame.Reader) error {
	i.dicts.Reset()
	i.seqStarted = false
	i.line(RegLine, i.blankTs(), "Trg-Rst", "dictionaries cleared")
	return nil
}

func (i *Interpreter) recVersion(_ uint8, r *frame.Reader) error {
	v, err := r.U16()
	if err != nil {
		return err
	}
	i.version = v
	i.line(InfLine, i.blankTs(), "Trg-Ver",
		fmt.Sprintf("%d.%d.%d", v/100, (v/10)%10, v%10))
	return nil
}

func (i *Interpreter) recTargetInfo(_ uint8, r *frame.Reader) error {
	v, err := r.U16()
	if err != nil {
		return err
	}
	endian, err := r.U8()
	if err != nil {
		return err
	}
	var wb [9]uint8
	for n := range wb {
		if wb[n], err = r.U8(); err != nil {
			return err
		}
	}

	i.version = v
	i.bigEndian = endian != 0
	i.w = widths{
		tstamp:   wb[0],
		objPtr:   wb[1],
		funPtr:   wb[2],
		sig:      wb[3],
		evt:      wb[4],
		queueCtr: wb[5],
		poolCtr:  wb[6],
		poolBlk:  wb[7],
		tevtCtr:  wb[8],
	}
	order := "little"
	if i.bigEndian {
		order = "big"
	}
	i.line(InfLine, i.blankTs(), "Trg-Info",
		fmt.Sprintf("ver=%d.%d.%d endian=%s tstamp=%d objPtr=%d funPtr=%d sig=%d",
			v/100, (v/10)%10, v%10, order, wb[0], wb[1], wb[2], wb[3]))
	return nil
}

func (i *Interpreter) recTargetDone(uint8, *frame.Reader) error {
	i.line(InfLine, i.blankTs(), "Trg-Done", "")
	return nil
}

func (i *Interpreter) recAssert(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	loc, err := r.U16()
	if err != nil {
		return err
	}
	module, err := r.Str()
	if err != nil {
		return err
	}
	i.line(ErrLine, i.fmtTs(ts), "Assert",
		fmt.Sprintf("Module=%s Loc=%d Wall=%s",
			module, loc, time.Now().Format("15:04:05.000")))
	return nil
}

// ---------------------------------------------------------------------------
// Dictionary records
// ---------------------------------------------------------------------------

func (i *Interpreter) recObjDict(_ uint8, r *frame.Reader) error {
	ptr, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	i.dicts.SetObject(ptr, name)
	i.line(RegLine, i.blankTs(), "Obj-Dict",
		fmt.Sprintf("%s->%s", hexAt(ptr, i.w.objPtr), name))
	return nil
}

func (i *Interpreter) recFunDict(_ uint8, r *frame.Reader) error {
	ptr, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	i.dicts.SetFunction(ptr, name)
	i.line(RegLine, i.blankTs(), "Fun-Dict",
		fmt.Sprintf("%s->%s", hexAt(ptr, i.w.funPtr), name))
	return nil
}

func (i *Interpreter) recSigDict(_ uint8, r *frame.Reader) error {
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	i.dicts.SetSignal(sig, obj, name)
	i.line(RegLine, i.blankTs(), "Sig-Dict",
		fmt.Sprintf("%s,%s->%s", hexAt(sig, i.w.sig), hexAt(obj, i.w.objPtr), name))
	return nil
}

func (i *Interpreter) recUsrDict(_ uint8, r *frame.Reader) error {
	id, err := r.U8()
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	i.dicts.SetUser(id, name)
	i.line(RegLine, i.blankTs(), "Usr-Dict",
		fmt.Sprintf("0x%02X->%s", id, name))
	return nil
}

func (i *Interpreter) recEnumDict(_ uint8, r *frame.Reader) error {
	group, err := r.U8()
	if err != nil {
		return err
	}
	val, err := r.U32()
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	i.dicts.SetEnum(group, uint64(val), name)
	i.line(RegLine, i.blankTs(), "Enum-Dict",
		fmt.Sprintf("%d.0x%08X->%s", group, val, name))
	return nil
}

// ---------------------------------------------------------------------------
// State-machine records
// ---------------------------------------------------------------------------

// smObjFun covers the SM records carrying (ts, obj, fun).
func (i *Interpreter) smObjFun(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	fun, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s %s", i.objName(obj), i.funName(fun)))
	i.row(rec, ts, obj, fun)
	return nil
}

// smObjSig covers the SM records carrying (ts, obj, sig).
func (i *Interpreter) smObjSig(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s %s", i.objName(obj), i.sigName(sig, obj)))
	i.row(rec, ts, obj, sig)
	return nil
}

func (i *Interpreter) recSmTopInit(_ uint8, r *frame.Reader) error {
	return i.smObjFun(RecSmTopInit, "Top-Init", r)
}

func (i *Interpreter) recSmStateInit(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	src, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	dst, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Init",
		fmt.Sprintf("%s %s->%s", i.objName(obj), i.funName(src), i.funName(dst)))
	i.row(RecSmStateInit, ts, obj, src, dst)
	return nil
}

func (i *Interpreter) recSmStateEntry(_ uint8, r *frame.Reader) error {
	return i.smObjFun(RecSmStateEntry, "Entry", r)
}

func (i *Interpreter) recSmStateExit(_ uint8, r *frame.Reader) error {
	return i.smObjFun(RecSmStateExit, "Exit", r)
}

func (i *Interpreter) recSmTran(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	src, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	dst, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Tran",
		fmt.Sprintf("%s %s %s->%s",
			i.objName(obj), i.sigName(sig, obj), i.funName(src), i.funName(dst)))
	i.row(RecSmTran, ts, obj, sig, src, dst)
	return nil
}

func (i *Interpreter) recSmInternTran(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	fun, err := r.Uint(i.w.funPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Intern",
		fmt.Sprintf("%s %s %s", i.objName(obj), i.sigName(sig, obj), i.funName(fun)))
	i.row(RecSmInternTran, ts, obj, sig, fun)
	return nil
}

func (i *Interpreter) recSmDispatch(_ uint8, r *frame.Reader) error {
	return i.smObjSig(RecSmDispatch, "Disp", r)
}

func (i *Interpreter) recSmIgnored(_ uint8, r *frame.Reader) error {
	return i.smObjSig(RecSmIgnored, "Ignored", r)
}

func (i *Interpreter) recSmUnhandled(_ uint8, r *frame.Reader) error {
	return i.smObjSig(RecSmUnhandled, "Unhand", r)
}

// ---------------------------------------------------------------------------
// Active-object records
// ---------------------------------------------------------------------------

// aoSigObj covers (ts, sig, obj) subscription records.
func (i *Interpreter) aoSigObj(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s %s", i.objName(obj), i.sigName(sig, obj)))
	i.row(rec, ts, sig, obj)
	return nil
}

func (i *Interpreter) recAoSubscribe(_ uint8, r *frame.Reader) error {
	return i.aoSigObj(RecAoSubscribe, "Subscr", r)
}

func (i *Interpreter) recAoUnsubscribe(_ uint8, r *frame.Reader) error {
	return i.aoSigObj(RecAoUnsubscribe, "Unsubscr", r)
}

// aoPost covers the FIFO and LIFO post records:
// (ts, sig, evtSize, sender, receiver, nFree, nMin).
func (i *Interpreter) aoPost(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	size, err := r.Uint(i.w.evt)
	if err != nil {
		return err
	}
	sender, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	receiver, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.queueCtr)
	if err != nil {
		return err
	}
	nMin, err := r.Uint(i.w.queueCtr)
	if err != nil {
		return err
	}
	from, to := i.objName(sender), i.objName(receiver)
	sigN := i.sigName(sig, receiver)
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s->%s %s Size=%d Free=%d Min=%d", from, to, sigN, size, nFree, nMin))
	i.row(rec, ts, sig, size, sender, receiver, nFree, nMin)
	i.message(ts, from, to, sigN)
	return nil
}

func (i *Interpreter) recAoPostFIFO(_ uint8, r *frame.Reader) error {
	return i.aoPost(RecAoPostFIFO, "Post", r)
}

func (i *Interpreter) recAoPostLIFO(_ uint8, r *frame.Reader) error {
	return i.aoPost(RecAoPostLIFO, "Post-LIFO", r)
}

// aoGet covers the queue get records: (ts, sig, obj, nFree).
func (i *Interpreter) aoGet(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.queueCtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s %s Free=%d", i.objName(obj), i.sigName(sig, obj), nFree))
	i.row(rec, ts, sig, obj, nFree)
	return nil
}

func (i *Interpreter) recAoGet(_ uint8, r *frame.Reader) error {
	return i.aoGet(RecAoGet, "Get", r)
}

func (i *Interpreter) recAoGetLast(_ uint8, r *frame.Reader) error {
	return i.aoGet(RecAoGetLast, "Get-Last", r)
}

func (i *Interpreter) recAoPublish(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	size, err := r.Uint(i.w.evt)
	if err != nil {
		return err
	}
	sender, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	from := i.objName(sender)
	sigN := i.sigName(sig, 0)
	i.line(RegLine, i.fmtTs(ts), "Publish",
		fmt.Sprintf("%s %s Size=%d", from, sigN, size))
	i.row(RecAoPublish, ts, sig, size, sender)
	i.message(ts, from, "*", sigN)
	return nil
}

// aoAttempt covers the failed-post records:
// (ts, sig, evtSize, sender, receiver, nFree, margin).
func (i *Interpreter) aoAttempt(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	size, err := r.Uint(i.w.evt)
	if err != nil {
		return err
	}
	sender, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	receiver, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.queueCtr)
	if err != nil {
		return err
	}
	margin, err := r.Uint(i.w.queueCtr)
	if err != nil {
		return err
	}
	from, to := i.objName(sender), i.objName(receiver)
	sigN := i.sigName(sig, receiver)
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s->%s %s Size=%d Free=%d Margin=%d", from, to, sigN, size, nFree, margin))
	i.row(rec, ts, sig, size, sender, receiver, nFree, margin)
	i.message(ts, from, to, sigN)
	return nil
}

func (i *Interpreter) recAoPostAttempt(_ uint8, r *frame.Reader) error {
	return i.aoAttempt(RecAoPostAttempt, "Post-Attempt", r)
}

func (i *Interpreter) recAoQueueAttempt(_ uint8, r *frame.Reader) error {
	return i.aoAttempt(RecAoQueueAttempt, "Queue-Attempt", r)
}

// ---------------------------------------------------------------------------
// Time-event records
// ---------------------------------------------------------------------------

func (i *Interpreter) recTeArm(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	timer, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	act, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nTicks, err := r.Uint(i.w.tevtCtr)
	if err != nil {
		return err
	}
	interval, err := r.Uint(i.w.tevtCtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "TE-Arm",
		fmt.Sprintf("%s %s Ticks=%d Interval=%d",
			i.objName(timer), i.objName(act), nTicks, interval))
	i.row(RecTeArm, ts, timer, act, nTicks, interval)
	return nil
}

// teTimerAct covers (ts, timer, act) time-event records.
func (i *Interpreter) teTimerAct(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	timer, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	act, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name,
		fmt.Sprintf("%s %s", i.objName(timer), i.objName(act)))
	i.row(rec, ts, timer, act)
	return nil
}

func (i *Interpreter) recTeDisarm(_ uint8, r *frame.Reader) error {
	return i.teTimerAct(RecTeDisarm, "TE-Disarm", r)
}

func (i *Interpreter) recTeAutoDisarm(_ uint8, r *frame.Reader) error {
	return i.teTimerAct(RecTeAutoDisarm, "TE-ADisarm", r)
}

func (i *Interpreter) recTeRearm(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	timer, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	act, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nTicks, err := r.Uint(i.w.tevtCtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "TE-Rearm",
		fmt.Sprintf("%s %s Ticks=%d", i.objName(timer), i.objName(act), nTicks))
	i.row(RecTeRearm, ts, timer, act, nTicks)
	return nil
}

func (i *Interpreter) recTePost(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	timer, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	sig, err := r.Uint(i.w.sig)
	if err != nil {
		return err
	}
	act, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	from, to := i.objName(timer), i.objName(act)
	sigN := i.sigName(sig, act)
	i.line(RegLine, i.fmtTs(ts), "TE-Post",
		fmt.Sprintf("%s->%s %s", from, to, sigN))
	i.row(RecTePost, ts, timer, sig, act)
	i.message(ts, from, to, sigN)
	return nil
}

// ---------------------------------------------------------------------------
// Memory-pool records
// ---------------------------------------------------------------------------

func (i *Interpreter) recMpGet(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	pool, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.poolCtr)
	if err != nil {
		return err
	}
	nMin, err := r.Uint(i.w.poolCtr)
	if err != nil {
		return err
	}
	blk, err := r.Uint(i.w.poolBlk)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "MP-Get",
		fmt.Sprintf("%s Free=%d Min=%d Blk=%d", i.objName(pool), nFree, nMin, blk))
	i.row(RecMpGet, ts, pool, nFree, nMin, blk)
	return nil
}

func (i *Interpreter) recMpPut(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	pool, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.poolCtr)
	if err != nil {
		return err
	}
	blk, err := r.Uint(i.w.poolBlk)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "MP-Put",
		fmt.Sprintf("%s Free=%d Blk=%d", i.objName(pool), nFree, blk))
	i.row(RecMpPut, ts, pool, nFree, blk)
	return nil
}

func (i *Interpreter) recMpGetAttempt(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	pool, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	nFree, err := r.Uint(i.w.poolCtr)
	if err != nil {
		return err
	}
	margin, err := r.Uint(i.w.poolCtr)
	if err != nil {
		return err
	}
	blk, err := r.Uint(i.w.poolBlk)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "MP-Attempt",
		fmt.Sprintf("%s Free=%d Margin=%d Blk=%d", i.objName(pool), nFree, margin, blk))
	i.row(RecMpGetAttempt, ts, pool, nFree, margin, blk)
	return nil
}

// ---------------------------------------------------------------------------
// Mutex / scheduler records
// ---------------------------------------------------------------------------

// schedPrio covers (ts, prio) scheduler records.
func (i *Interpreter) schedPrio(rec uint8, name string, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	prio, err := r.U8()
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), name, fmt.Sprintf("Prio=%d", prio))
	i.row(rec, ts, uint64(prio))
	return nil
}

func (i *Interpreter) recSchedLock(_ uint8, r *frame.Reader) error {
	return i.schedPrio(RecSchedLock, "Sch-Lock", r)
}

func (i *Interpreter) recSchedUnlock(_ uint8, r *frame.Reader) error {
	return i.schedPrio(RecSchedUnlock, "Sch-Unlock", r)
}

func (i *Interpreter) recSchedNext(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Sch-Next", i.objName(obj))
	i.row(RecSchedNext, ts, obj)
	return nil
}

func (i *Interpreter) recSchedIdle(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Sch-Idle", "")
	i.row(RecSchedIdle, ts)
	return nil
}

func (i *Interpreter) recSchedResume(_ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	obj, err := r.Uint(i.w.objPtr)
	if err != nil {
		return err
	}
	i.line(RegLine, i.fmtTs(ts), "Sch-Resume", i.objName(obj))
	i.row(RecSchedResume, ts, obj)
	return nil
}

func (i *Interpreter) recIsrEntry(_ uint8, r *frame.Reader) error {
	return i.schedPrio(RecIsrEntry, "ISR-Entry", r)
}

func (i *Interpreter) recIsrExit(_ uint8, r *frame.Reader) error {
	return i.schedPrio(RecIsrExit, "ISR-Exit", r)
}

// ---------------------------------------------------------------------------
// User records
// ---------------------------------------------------------------------------

// processUser decodes an application record: (ts, raw payload). The record
// name comes from the user-record dictionary when declared.
func (i *Interpreter) processUser(typ uint8, r *frame.Reader) error {
	ts, err := i.stamp(r)
	if err != nil {
		return err
	}
	name, ok := i.dicts.LookupUser(typ)
	if !ok {
		name = fmt.Sprintf("User%03d", typ)
	}
	rest := r.Rest()
	var b strings.Builder
	for n, x := range rest {
		if n > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", x)
	}
	i.line(UsrLine, i.fmtTs(ts), name, b.String())

	vals := make([]uint64, 0, len(rest))
	for _, x := range rest {
		vals = append(vals, uint64(x))
	}
	i.row(typ, ts, vals...)
	return nil
}
