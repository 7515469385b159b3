package trace_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/statetrace/spyglass/internal/config"
	"github.com/statetrace/spyglass/internal/dict"
	"github.com/statetrace/spyglass/internal/trace"
)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// harness collects every line the interpreter emits.
type harness struct {
	interp *trace.Interpreter
	dicts  *dict.Store
	lines  []trace.Line
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{dicts: dict.NewStore()}
	h.interp = trace.NewInterpreter(cfg, h.dicts, func(l trace.Line) {
		h.lines = append(h.lines, l)
	})
	return h
}

// rec builds a decoded frame (type, seq, payload) as the framer delivers it.
func rec(typ, seq byte, payload ...byte) []byte {
	return append([]byte{typ, seq}, payload...)
}

// feed processes records in order; each carries its own sequence number.
func (h *harness) feed(frames ...[]byte) {
	for _, f := range frames {
		h.interp.Process(f)
	}
}

func (h *harness) lastLine(t *testing.T) trace.Line {
	t.Helper()
	if len(h.lines) == 0 {
		t.Fatal("no lines emitted")
	}
	return h.lines[len(h.lines)-1]
}

// u32le and u16le encode little-endian fields for test payloads.
func u32le(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Dictionary records
// ---------------------------------------------------------------------------

func TestObjDict_UpdatesStore(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecObjDict, 0, cat(u32le(0xDEADBEEF), []byte("AO_Blinky\x00"))...))

	if n, ok := h.dicts.LookupObject(0xDEADBEEF); !ok || n != "AO_Blinky" {
		t.Errorf("LookupObject = %q, %v", n, ok)
	}
	line := h.lastLine(t)
	if line.Type != trace.RegLine {
		t.Errorf("line type = %v", line.Type)
	}
	if !strings.Contains(line.Text, "0xDEADBEEF->AO_Blinky") {
		t.Errorf("line = %q", line.Text)
	}
}

func TestSigDict_ScopedInsert(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecSigDict, 0,
		cat(u16le(10), u32le(0xDEADBEEF), []byte("TIMEOUT_SIG\x00"))...))

	if n, ok := h.dicts.LookupSignal(10, 0xDEADBEEF); !ok || n != "TIMEOUT_SIG" {
		t.Errorf("LookupSignal = %q, %v", n, ok)
	}
}

func TestUsrDict_NamesUserRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(
		rec(trace.RecUsrDict, 0, cat([]byte{0x71}, []byte("SensorData\x00"))...),
		rec(0x71, 1, cat(u32le(42), []byte{0xAB, 0xCD})...),
	)
	line := h.lastLine(t)
	if line.Type != trace.UsrLine {
		t.Errorf("line type = %v, want UsrLine", line.Type)
	}
	if !strings.Contains(line.Text, "SensorData") {
		t.Errorf("line = %q", line.Text)
	}
	if !strings.Contains(line.Text, "ab cd") {
		t.Errorf("payload dump missing: %q", line.Text)
	}
}

func TestUserRecord_WithoutDictEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(0x7F, 0, u32le(1)...))
	if !strings.Contains(h.lastLine(t).Text, "User127") {
		t.Errorf("line = %q", h.lastLine(t).Text)
	}
}

// ---------------------------------------------------------------------------
// State-machine records
// ---------------------------------------------------------------------------

// TestDispatch_RendersDictionaryNames is the canonical end-to-end decode:
// widths (tstamp=4, objPtr=4, sig=2), a dispatch record for a known object
// and signal.
func TestDispatch_RendersDictionaryNames(t *testing.T) {
	h := newHarness(t, nil)
	h.dicts.SetObject(0xDEADBEEF, "AO_Blinky")
	h.dicts.SetSignal(10, 0xDEADBEEF, "TIMEOUT_SIG")

	h.feed(rec(0x26, 0x00, cat(u32le(100), u32le(0xDEADBEEF), u16le(10))...))

	line := h.lastLine(t)
	if line.Type != trace.RegLine {
		t.Errorf("type = %v", line.Type)
	}
	for _, want := range []string{"AO_Blinky", "TIMEOUT_SIG", "0000000100"} {
		if !strings.Contains(line.Text, want) {
			t.Errorf("line %q missing %q", line.Text, want)
		}
	}
}

func TestDispatch_UnknownKeysRenderHex(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecSmDispatch, 0, cat(u32le(7), u32le(0x20001000), u16le(3))...))

	line := h.lastLine(t)
	if !strings.Contains(line.Text, "0x20001000") {
		t.Errorf("object hex literal missing: %q", line.Text)
	}
	if !strings.Contains(line.Text, "0x0003") {
		t.Errorf("signal hex literal at native width missing: %q", line.Text)
	}
}

func TestTran_SourceAndTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.dicts.SetObject(0xDEADBEEF, "AO_Blinky")
	h.dicts.SetFunction(0x100, "Blinky_off")
	h.dicts.SetFunction(0x200, "Blinky_on")
	h.dicts.SetSignal(10, 0xDEADBEEF, "TIMEOUT_SIG")

	h.feed(rec(trace.RecSmTran, 0,
		cat(u32le(555), u32le(0xDEADBEEF), u16le(10), u32le(0x100), u32le(0x200))...))

	line := h.lastLine(t)
	if !strings.Contains(line.Text, "Blinky_off->Blinky_on") {
		t.Errorf("line = %q", line.Text)
	}
	if !strings.HasPrefix(line.Text, "0000000555 Tran") {
		t.Errorf("line = %q", line.Text)
	}
}

func TestEntry_ObjectAndState(t *testing.T) {
	h := newHarness(t, nil)
	h.dicts.SetObject(0xDEADBEEF, "AO_Blinky")
	h.dicts.SetFunction(0x200, "Blinky_on")
	h.feed(rec(trace.RecSmStateEntry, 0, cat(u32le(42), u32le(0xDEADBEEF), u32le(0x200))...))

	line := h.lastLine(t)
	if !strings.HasPrefix(line.Text, "0000000042 Entry") {
		t.Errorf("line = %q", line.Text)
	}
	if !strings.Contains(line.Text, "AO_Blinky Blinky_on") {
		t.Errorf("line = %q", line.Text)
	}
}

// ---------------------------------------------------------------------------
// Width handling
// ---------------------------------------------------------------------------

func TestWidths_TwoByteTimestamp(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.TstampSize = 2
		c.ObjPtrSize = 2
		c.SigSize = 1
	})
	h.feed(rec(trace.RecSmDispatch, 0, 0x64, 0x00, 0x34, 0x12, 0x07))

	line := h.lastLine(t)
	if !strings.HasPrefix(line.Text, "00100 ") {
		t.Errorf("2-byte timestamp column: %q", line.Text)
	}
	if !strings.Contains(line.Text, "0x1234") {
		t.Errorf("2-byte pointer literal: %q", line.Text)
	}
	if !strings.Contains(line.Text, "0x07") {
		t.Errorf("1-byte signal literal: %q", line.Text)
	}
}

func TestTargetInfo_OverridesWidths(t *testing.T) {
	h := newHarness(t, nil)

	// version=6.9.0, little endian, tstamp=2, objPtr=2, funPtr=2, sig=1,
	// evt=1, queueCtr=1, poolCtr=1, poolBlk=1, tevtCtr=1.
	h.feed(rec(trace.RecTargetInfo, 0,
		cat(u16le(690), []byte{0, 2, 2, 2, 1, 1, 1, 1, 1, 1})...))

	if h.interp.Version() != 690 {
		t.Errorf("Version = %d, want 690", h.interp.Version())
	}
	info := h.lastLine(t)
	if info.Type != trace.InfLine {
		t.Errorf("target-info line type = %v", info.Type)
	}

	// Subsequent records decode with the overridden widths.
	h.feed(rec(trace.RecSmDispatch, 1, 0x64, 0x00, 0x34, 0x12, 0x07))
	if !strings.HasPrefix(h.lastLine(t).Text, "00100 ") {
		t.Errorf("widths not applied: %q", h.lastLine(t).Text)
	}
}

func TestBigEndian_Decoding(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.BigEndian = true })
	h.feed(rec(trace.RecSmDispatch, 0,
		0x00, 0x00, 0x00, 0x64, // ts = 100
		0xDE, 0xAD, 0xBE, 0xEF, // obj
		0x00, 0x0A)) // sig = 10
	line := h.lastLine(t)
	if !strings.HasPrefix(line.Text, "0000000100") {
		t.Errorf("big-endian timestamp: %q", line.Text)
	}
	if !strings.Contains(line.Text, "0xDEADBEEF") {
		t.Errorf("big-endian pointer: %q", line.Text)
	}
}

// ---------------------------------------------------------------------------
// Session handling
// ---------------------------------------------------------------------------

func TestReset_ClearsDictionaries(t *testing.T) {
	h := newHarness(t, nil)
	h.dicts.SetObject(1, "AO_X")
	h.feed(rec(trace.RecReset, 0))

	if h.dicts.Len() != 0 {
		t.Errorf("dictionaries survived reset: %d entries", h.dicts.Len())
	}
	if !strings.Contains(h.lastLine(t).Text, "Trg-Rst") {
		t.Errorf("line = %q", h.lastLine(t).Text)
	}
}

func TestSequenceGap(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(
		rec(trace.RecEmpty, 0),
		rec(trace.RecEmpty, 1), // consecutive: silent
		rec(trace.RecEmpty, 5), // gap: 3 records lost
	)
	var warns []string
	for _, l := range h.lines {
		if l.Type == trace.WarnLine {
			warns = append(warns, l.Text)
		}
	}
	if len(warns) != 1 {
		t.Fatalf("warn lines = %v, want exactly one", warns)
	}
	if !strings.Contains(warns[0], "Records lost: 3") {
		t.Errorf("warn = %q", warns[0])
	}
}

func TestSequenceWrap(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(
		rec(trace.RecEmpty, 0xFF),
		rec(trace.RecEmpty, 0x00), // wrap without loss
	)
	for _, l := range h.lines {
		if l.Type == trace.WarnLine {
			t.Errorf("unexpected warn on seq wrap: %q", l.Text)
		}
	}
}

func TestAssert_IsError(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecAssert, 0,
		cat(u32le(900), u16le(123), []byte("bsp\x00"))...))

	line := h.lastLine(t)
	if line.Type != trace.ErrLine {
		t.Errorf("assert line type = %v, want ErrLine", line.Type)
	}
	if !strings.Contains(line.Text, "Module=bsp") || !strings.Contains(line.Text, "Loc=123") {
		t.Errorf("line = %q", line.Text)
	}
}

func TestTruncatedRecord_WarnsAndContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecSmDispatch, 0, 0x64, 0x00)) // ts cut short

	line := h.lastLine(t)
	if line.Type != trace.WarnLine {
		t.Fatalf("type = %v, want WarnLine", line.Type)
	}
	if !strings.Contains(line.Text, "BadRec") {
		t.Errorf("line = %q", line.Text)
	}

	// The stream continues: the next record decodes normally.
	h.feed(rec(trace.RecEmpty, 1))
}

func TestUnknownRecordType_Warns(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(0x6F, 0))
	line := h.lastLine(t)
	if line.Type != trace.WarnLine || !strings.Contains(line.Text, "UnknownRec") {
		t.Errorf("line = %+v", line)
	}
}

// ---------------------------------------------------------------------------
// Side channels
// ---------------------------------------------------------------------------

type fakeMatlab struct {
	rows []string
}

func (f *fakeMatlab) Row(rec uint8, ts uint64, vals []uint64) error {
	f.rows = append(f.rows, fmt.Sprintf("%d/%d/%v", rec, ts, vals))
	return nil
}

func TestMatlabRows(t *testing.T) {
	h := newHarness(t, nil)
	m := &fakeMatlab{}
	h.interp.SetMatlab(m)

	h.feed(rec(trace.RecSmDispatch, 0, cat(u32le(100), u32le(0xDEADBEEF), u16le(10))...))
	if len(m.rows) != 1 {
		t.Fatalf("rows = %v", m.rows)
	}
	if m.rows[0] != fmt.Sprintf("%d/100/[3735928559 10]", trace.RecSmDispatch) {
		t.Errorf("row = %q", m.rows[0])
	}

	// Detached channel receives nothing.
	h.interp.SetMatlab(nil)
	h.feed(rec(trace.RecSmDispatch, 1, cat(u32le(101), u32le(1), u16le(1))...))
	if len(m.rows) != 1 {
		t.Errorf("row emitted after detach: %v", m.rows)
	}
}

type fakeSeq struct {
	msgs []string
}

func (f *fakeSeq) Message(ts uint64, from, to, sig string) error {
	f.msgs = append(f.msgs, fmt.Sprintf("%d:%s->%s:%s", ts, from, to, sig))
	return nil
}

func TestSequenceDiagram_FiltersByObjectList(t *testing.T) {
	h := newHarness(t, nil)
	h.dicts.SetObject(0x100, "AO_Blinky")
	h.dicts.SetObject(0x200, "AO_Pump")
	h.dicts.SetObject(0x300, "AO_Other")
	h.dicts.SetSignal(10, 0x200, "START_SIG")

	s := &fakeSeq{}
	h.interp.SetSequence(s, []string{"AO_Blinky", "AO_Pump"})

	post := func(seq byte, sender, receiver uint32) []byte {
		return rec(trace.RecAoPostFIFO, seq,
			cat(u32le(100), u16le(10), u16le(8), u32le(sender), u32le(receiver), []byte{5}, []byte{4})...)
	}
	h.feed(
		post(0, 0x100, 0x200), // both listed: emitted
		post(1, 0x300, 0x300), // neither listed: filtered
		post(2, 0x300, 0x200), // receiver listed: emitted
	)

	if len(s.msgs) != 2 {
		t.Fatalf("msgs = %v", s.msgs)
	}
	if s.msgs[0] != "100:AO_Blinky->AO_Pump:START_SIG" {
		t.Errorf("msgs[0] = %q", s.msgs[0])
	}
}

func TestPost_QueueFields(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecAoPostFIFO, 0,
		cat(u32le(100), u16le(10), u16le(24), u32le(0x100), u32le(0x200), []byte{5}, []byte{4})...))
	line := h.lastLine(t)
	for _, want := range []string{"Size=24", "Free=5", "Min=4"} {
		if !strings.Contains(line.Text, want) {
			t.Errorf("line %q missing %q", line.Text, want)
		}
	}
}

func TestPublish_EventSizeWidth(t *testing.T) {
	// The event-size field honors the configured evt width.
	h := newHarness(t, func(c *config.Config) { c.EvtSize = 1 })
	h.feed(rec(trace.RecAoPublish, 0,
		cat(u32le(100), u16le(10), []byte{16}, u32le(0x100))...))
	line := h.lastLine(t)
	if !strings.HasPrefix(line.Text, "0000000100 Publish") {
		t.Errorf("line = %q", line.Text)
	}
	if !strings.Contains(line.Text, "Size=16") {
		t.Errorf("line = %q", line.Text)
	}
}

func TestMemPool_Fields(t *testing.T) {
	// Pool records carry free count, min-free and the block size at the
	// configured widths (poolCtr=2, poolBlk=2 by default).
	h := newHarness(t, nil)
	h.dicts.SetObject(0x3000, "smlPool")
	h.feed(
		rec(trace.RecMpGet, 0,
			cat(u32le(100), u32le(0x3000), u16le(9), u16le(7), u16le(32))...),
		rec(trace.RecMpPut, 1,
			cat(u32le(101), u32le(0x3000), u16le(10), u16le(32))...),
		rec(trace.RecMpGetAttempt, 2,
			cat(u32le(102), u32le(0x3000), u16le(0), u16le(1), u16le(32))...),
	)

	get := h.lines[0]
	for _, want := range []string{"MP-Get", "smlPool", "Free=9", "Min=7", "Blk=32"} {
		if !strings.Contains(get.Text, want) {
			t.Errorf("get line %q missing %q", get.Text, want)
		}
	}
	put := h.lines[1]
	if !strings.Contains(put.Text, "Free=10") || !strings.Contains(put.Text, "Blk=32") {
		t.Errorf("put line = %q", put.Text)
	}
	attempt := h.lines[2]
	if !strings.Contains(attempt.Text, "Margin=1") || !strings.Contains(attempt.Text, "Blk=32") {
		t.Errorf("attempt line = %q", attempt.Text)
	}
}

func TestMemPool_BlockSizeWidth(t *testing.T) {
	// -B 1 shrinks the block-size field to one byte.
	h := newHarness(t, func(c *config.Config) {
		c.PoolCtrSize = 1
		c.PoolBlkSize = 1
	})
	h.feed(rec(trace.RecMpGet, 0,
		cat(u32le(100), u32le(0x3000), []byte{9}, []byte{7}, []byte{64})...))
	line := h.lastLine(t)
	if !strings.Contains(line.Text, "Blk=64") {
		t.Errorf("line = %q", line.Text)
	}
	if line.Type != trace.RegLine {
		t.Errorf("type = %v", line.Type)
	}
}

func TestTargetTime_Tracked(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(rec(trace.RecSmDispatch, 0, cat(u32le(777), u32le(1), u16le(1))...))
	ts, wall := h.interp.TargetTime()
	if ts != 777 {
		t.Errorf("TargetTime ts = %d", ts)
	}
	if wall.IsZero() {
		t.Error("wall-clock arrival not recorded")
	}
}
