package sink_test

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statetrace/spyglass/internal/sink"
	"github.com/statetrace/spyglass/internal/trace"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func reg(text string) trace.Line  { return trace.Line{Type: trace.RegLine, Text: text} }
func errl(text string) trace.Line { return trace.Line{Type: trace.ErrLine, Text: text} }

// countDots counts '.' characters outside record lines.
func countDots(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.Trim(line, ".") == "" {
			n += strings.Count(line, ".")
		}
	}
	return n
}

func TestQuietOff_PrintsEverything(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)

	r.Emit(reg("record one"))
	r.Emit(reg("record two"))

	got := out.String()
	if !strings.Contains(got, "record one") || !strings.Contains(got, "record two") {
		t.Errorf("stdout = %q", got)
	}
	if strings.Contains(got, ".") {
		t.Errorf("dots with quiet off: %q", got)
	}
}

func TestQuietThrottle_OneInThree(t *testing.T) {
	// With -q 3, ten regular records and one error: the records printed
	// are 1, 4, 7 and 10; six dots; the error always prints.
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, 3)

	for i := 1; i <= 10; i++ {
		r.Emit(reg(strings.Repeat("r", i))) // r, rr, rrr, ...
	}
	r.Emit(errl("boom"))

	got := out.String()
	var printed []int
	for i := 1; i <= 10; i++ {
		if strings.Contains(got, strings.Repeat("r", i)+"\n") {
			printed = append(printed, i)
		}
	}
	// Longer lines contain shorter ones as substrings, so check exact
	// line membership.
	lines := strings.Split(got, "\n")
	member := map[string]bool{}
	for _, l := range lines {
		member[l] = true
	}
	printed = printed[:0]
	for i := 1; i <= 10; i++ {
		if member[strings.Repeat("r", i)] {
			printed = append(printed, i)
		}
	}
	want := []int{1, 4, 7, 10}
	if len(printed) != len(want) {
		t.Fatalf("printed records %v, want %v\nstdout:\n%s", printed, want, got)
	}
	for i := range want {
		if printed[i] != want[i] {
			t.Fatalf("printed records %v, want %v", printed, want)
		}
	}
	if d := countDots(got); d != 6 {
		t.Errorf("dots = %d, want 6\nstdout:\n%s", d, got)
	}
	if !member["boom"] {
		t.Errorf("error line suppressed:\n%s", got)
	}
}

func TestQuietZero_SuppressesAllRegular(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, 0)

	for i := 0; i < 5; i++ {
		r.Emit(reg("record"))
	}
	r.Emit(errl("visible"))

	got := out.String()
	if strings.Contains(got, "record") {
		t.Errorf("regular line leaked in quiet 0: %q", got)
	}
	if d := countDots(got); d != 5 {
		t.Errorf("dots = %d, want 5", d)
	}
	if !strings.Contains(got, "visible") {
		t.Errorf("error line suppressed: %q", got)
	}
}

func TestToggleQuiet_RoundTrip(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, 3)

	if r.Quiet() != 3 {
		t.Fatalf("initial quiet = %d", r.Quiet())
	}
	if q := r.ToggleQuiet(); q != -1 {
		t.Errorf("toggle to off = %d", q)
	}
	if q := r.ToggleQuiet(); q != 3 {
		t.Errorf("toggle back = %d, want saved 3", q)
	}

	r2 := sink.NewRouter(discard, &out, -1)
	if q := r2.ToggleQuiet(); q != 0 {
		t.Errorf("toggle from off with no saved value = %d, want 0", q)
	}
	if q := r2.ToggleQuiet(); q != -1 {
		t.Errorf("toggle off again = %d", q)
	}
}

func TestTextSink_ReceivesAllLinesRegardlessOfQuiet(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, 0)
	path := filepath.Join(t.TempDir(), "session.txt")
	if err := r.OpenText(path); err != nil {
		t.Fatalf("OpenText: %v", err)
	}

	r.Emit(reg("suppressed on stdout"))
	r.Emit(errl("error line"))
	if err := r.CloseText(); err != nil {
		t.Fatalf("CloseText: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read text sink: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "suppressed on stdout") || !strings.Contains(got, "error line") {
		t.Errorf("text sink content = %q", got)
	}
	if r.TextName() != "OFF" {
		t.Errorf("TextName after close = %q", r.TextName())
	}
}

func TestForward_SkipsInfLines(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)

	var forwarded []trace.Line
	r.SetForward(func(l trace.Line) { forwarded = append(forwarded, l) })

	r.Emit(reg("regular"))
	r.Emit(trace.Line{Type: trace.InfLine, Text: "internal info"})
	r.Emit(errl("error"))

	if len(forwarded) != 2 {
		t.Fatalf("forwarded = %v", forwarded)
	}
	for _, l := range forwarded {
		if l.Type == trace.InfLine {
			t.Errorf("INF line forwarded: %q", l.Text)
		}
	}
}

func TestBinarySink_RawBytes(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := r.OpenBinary(path); err != nil {
		t.Fatalf("OpenBinary: %v", err)
	}

	raw := []byte{0x26, 0x00, 0x7D, 0x5D, 0x33, 0x00}
	r.WriteRaw(raw)
	if err := r.CloseBinary(); err != nil {
		t.Fatalf("CloseBinary: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Errorf("capture = % x, want % x", data, raw)
	}

	// Closed sink silently discards.
	r.WriteRaw([]byte{1, 2, 3})
}

func TestMatlabRows_Deterministic(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()

	write := func(path string) string {
		r := sink.NewRouter(discard, &out, -1)
		if err := r.OpenMatlab(path); err != nil {
			t.Fatalf("OpenMatlab: %v", err)
		}
		r.Row(0x26, 100, []uint64{0xDEADBEEF, 10})
		r.Row(0x32, 101, []uint64{1, 2, 3, 4, 5})
		if err := r.CloseMatlab(); err != nil {
			t.Fatalf("CloseMatlab: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read matlab: %v", err)
		}
		return string(data)
	}

	a := write(filepath.Join(dir, "a.mat"))
	b := write(filepath.Join(dir, "b.mat"))
	if a != b {
		t.Errorf("same rows produced different files:\n%q\n%q", a, b)
	}
	if !strings.Contains(a, "38 100 3735928559 10\n") {
		t.Errorf("matlab row format: %q", a)
	}
}

func TestSequenceSink_Rows(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)
	path := filepath.Join(t.TempDir(), "session.seq")
	if err := r.OpenSequence(path); err != nil {
		t.Fatalf("OpenSequence: %v", err)
	}
	r.Message(100, "AO_Blinky", "AO_Pump", "START_SIG")
	if err := r.CloseSequence(); err != nil {
		t.Fatalf("CloseSequence: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "100 AO_Blinky -> AO_Pump START_SIG\n" {
		t.Errorf("sequence row = %q", string(data))
	}
}

func TestOpenTwice_Fails(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)
	dir := t.TempDir()
	if err := r.OpenText(filepath.Join(dir, "one.txt")); err != nil {
		t.Fatalf("OpenText: %v", err)
	}
	if err := r.OpenText(filepath.Join(dir, "two.txt")); err == nil {
		t.Error("second OpenText succeeded")
	}
	r.CloseAll()
}

func TestCloseAll_Idempotent(t *testing.T) {
	var out bytes.Buffer
	r := sink.NewRouter(discard, &out, -1)
	dir := t.TempDir()
	for _, open := range []func(string) error{r.OpenText, r.OpenBinary, r.OpenMatlab, r.OpenSequence} {
		f, err := os.CreateTemp(dir, "sink-*")
		if err != nil {
			t.Fatal(err)
		}
		name := f.Name()
		f.Close()
		if err := open(name); err != nil {
			t.Fatalf("open: %v", err)
		}
	}
	r.CloseAll()
	r.CloseAll() // must not panic or error on already-closed sinks

	if r.TextName() != "OFF" || r.BinaryName() != "OFF" ||
		r.MatlabName() != "OFF" || r.SequenceName() != "OFF" {
		t.Error("sink names not reset after CloseAll")
	}
}
