// Package dict maintains the symbolic-name dictionaries of a trace session:
// object pointers, function pointers, signals, user-record ids and enum
// values, each mapping a numeric key the target emits to a human-readable
// name announced in dictionary records. The store supports text
// serialization so a session's dictionaries survive a target power cycle.
//
// The store is mutated only from the event-loop goroutine and is therefore
// deliberately unsynchronized.
package dict

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// fileHeader is the first line of a serialized dictionary file. The trailing
// number is the format version.
const fileHeader = "spyglass-dict 1"

// sigKey identifies a signal dictionary entry. Signals are scoped to the
// active object that announced them; Obj == 0 marks a globally visible
// signal.
type sigKey struct {
	Sig uint64
	Obj uint64
}

// enumKey identifies an enum dictionary entry within its group.
type enumKey struct {
	Group uint8
	Val   uint64
}

// Store holds the five dictionaries of one trace session.
type Store struct {
	objects   map[uint64]string
	functions map[uint64]string
	signals   map[sigKey]string
	users     map[uint8]string
	enums     map[enumKey]string
}

// NewStore returns an empty dictionary store.
func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset clears all five dictionaries. Invoked when the target announces a
// session reset.
func (s *Store) Reset() {
	s.objects = make(map[uint64]string)
	s.functions = make(map[uint64]string)
	s.signals = make(map[sigKey]string)
	s.users = make(map[uint8]string)
	s.enums = make(map[enumKey]string)
}

// Len reports the total number of entries across all dictionaries.
func (s *Store) Len() int {
	return len(s.objects) + len(s.functions) + len(s.signals) +
		len(s.users) + len(s.enums)
}

// SetObject records the name of the object at ptr.
func (s *Store) SetObject(ptr uint64, name string) { s.objects[ptr] = name }

// LookupObject resolves an object pointer to its name.
func (s *Store) LookupObject(ptr uint64) (string, bool) {
	n, ok := s.objects[ptr]
	return n, ok
}

// SetFunction records the name of the state function at ptr.
func (s *Store) SetFunction(ptr uint64, name string) { s.functions[ptr] = name }

// LookupFunction resolves a function pointer to its name.
func (s *Store) LookupFunction(ptr uint64) (string, bool) {
	n, ok := s.functions[ptr]
	return n, ok
}

// SetSignal records the name of signal sig as seen by the active object at
// obj. obj == 0 registers a globally visible signal name.
func (s *Store) SetSignal(sig, obj uint64, name string) {
	s.signals[sigKey{sig, obj}] = name
}

// LookupSignal resolves (sig, obj) to a name, falling back to the global
// entry for sig when no object-scoped entry exists.
func (s *Store) LookupSignal(sig, obj uint64) (string, bool) {
	if n, ok := s.signals[sigKey{sig, obj}]; ok {
		return n, true
	}
	n, ok := s.signals[sigKey{sig, 0}]
	return n, ok
}

// SetUser records the name (and implicit format) of user record id.
func (s *Store) SetUser(id uint8, name string) { s.users[id] = name }

// LookupUser resolves a user record id to its declared name.
func (s *Store) LookupUser(id uint8) (string, bool) {
	n, ok := s.users[id]
	return n, ok
}

// SetEnum records the name of value val within enum group.
func (s *Store) SetEnum(group uint8, val uint64, name string) {
	s.enums[enumKey{group, val}] = name
}

// LookupEnum resolves (group, val) to its name.
func (s *Store) LookupEnum(group uint8, val uint64) (string, bool) {
	n, ok := s.enums[enumKey{group, val}]
	return n, ok
}

// Equal reports whether two stores hold identical entries. Used by tests
// and by the dictionary round-trip check.
func (s *Store) Equal(o *Store) bool {
	if len(s.objects) != len(o.objects) || len(s.functions) != len(o.functions) ||
		len(s.signals) != len(o.signals) || len(s.users) != len(o.users) ||
		len(s.enums) != len(o.enums) {
		return false
	}
	for k, v := range s.objects {
		if o.objects[k] != v {
			return false
		}
	}
	for k, v := range s.functions {
		if o.functions[k] != v {
			return false
		}
	}
	for k, v := range s.signals {
		if o.signals[k] != v {
			return false
		}
	}
	for k, v := range s.users {
		if o.users[k] != v {
			return false
		}
	}
	for k, v := range s.enums {
		if o.enums[k] != v {
			return false
		}
	}
	return true
}

// WriteTo serializes the store as text: the header line, then one entry per
// line as "kind key_hex name". Composite keys (signals, enums) join their
// two components with '.'. Entries are emitted in sorted key order so equal
// stores serialize to identical bytes.
func (s *Store) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, fileHeader)

	writeSorted := func(kind string, m map[uint64]string) {
		keys := make([]uint64, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			fmt.Fprintf(bw, "%s %x %s\n", kind, k, m[k])
		}
	}
	writeSorted("obj", s.objects)
	writeSorted("fun", s.functions)

	sigs := make([]sigKey, 0, len(s.signals))
	for k := range s.signals {
		sigs = append(sigs, k)
	}
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].Sig != sigs[j].Sig {
			return sigs[i].Sig < sigs[j].Sig
		}
		return sigs[i].Obj < sigs[j].Obj
	})
	for _, k := range sigs {
		fmt.Fprintf(bw, "sig %x.%x %s\n", k.Sig, k.Obj, s.signals[k])
	}

	usrs := make([]int, 0, len(s.users))
	for k := range s.users {
		usrs = append(usrs, int(k))
	}
	sort.Ints(usrs)
	for _, k := range usrs {
		fmt.Fprintf(bw, "usr %x %s\n", k, s.users[uint8(k)])
	}

	enums := make([]enumKey, 0, len(s.enums))
	for k := range s.enums {
		enums = append(enums, k)
	}
	sort.Slice(enums, func(i, j int) bool {
		if enums[i].Group != enums[j].Group {
			return enums[i].Group < enums[j].Group
		}
		return enums[i].Val < enums[j].Val
	})
	for _, k := range enums {
		fmt.Fprintf(bw, "enum %x.%x %s\n", k.Group, k.Val, s.enums[k])
	}

	return bw.Flush()
}

// ReadFrom replaces the store contents with entries parsed from r. Malformed
// lines and unknown kinds are skipped with a warning; only an unreadable
// stream or a bad header is an error.
func (s *Store) ReadFrom(r io.Reader, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("dict: read header: %w", err)
		}
		return fmt.Errorf("dict: empty dictionary file")
	}
	if !strings.HasPrefix(sc.Text(), "spyglass-dict ") {
		return fmt.Errorf("dict: unrecognized header %q", sc.Text())
	}

	s.Reset()
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := s.parseLine(line); err != nil {
			logger.Warn("skipping dictionary line",
				slog.Int("line", lineNo), slog.Any("error", err))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("dict: read entries: %w", err)
	}
	return nil
}

// parseLine inserts one "kind key_hex name" entry.
func (s *Store) parseLine(line string) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	kind, key, name := fields[0], fields[1], fields[2]

	switch kind {
	case "obj", "fun", "usr":
		k, err := strconv.ParseUint(key, 16, 64)
		if err != nil {
			return fmt.Errorf("bad key %q: %w", key, err)
		}
		switch kind {
		case "obj":
			s.SetObject(k, name)
		case "fun":
			s.SetFunction(k, name)
		default:
			if k > 0xFF {
				return fmt.Errorf("user record id %#x out of range", k)
			}
			s.SetUser(uint8(k), name)
		}
	case "sig", "enum":
		a, b, ok := strings.Cut(key, ".")
		if !ok {
			return fmt.Errorf("composite key %q missing separator", key)
		}
		ka, err := strconv.ParseUint(a, 16, 64)
		if err != nil {
			return fmt.Errorf("bad key %q: %w", key, err)
		}
		kb, err := strconv.ParseUint(b, 16, 64)
		if err != nil {
			return fmt.Errorf("bad key %q: %w", key, err)
		}
		if kind == "sig" {
			s.SetSignal(ka, kb, name)
		} else {
			if ka > 0xFF {
				return fmt.Errorf("enum group %#x out of range", ka)
			}
			s.SetEnum(uint8(ka), kb, name)
		}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}

// SaveFile writes the store to path, truncating any previous content.
func (s *Store) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dict: create %q: %w", path, err)
	}
	if err := s.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("dict: write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dict: close %q: %w", path, err)
	}
	return nil
}

// LoadFile replaces the store contents from the file at path.
func (s *Store) LoadFile(path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dict: open %q: %w", path, err)
	}
	defer f.Close()
	return s.ReadFrom(f, logger)
}
