// Package trace decodes framed target records into formatted trace lines.
// The Interpreter owns the record dispatch table, keeps the session
// dictionaries current, tracks sequence-number continuity, and feeds the
// structured side channels (Matlab rows, sequence-diagram rows).
package trace

// Record-type bytes. These values are the wire contract with the
// instrumented target emitter and are grouped by subsystem; ranges between
// groups are reserved.
const (
	// Session records.
	RecEmpty      = 0x00
	RecReset      = 0x01
	RecVersion    = 0x02
	RecTargetInfo = 0x03
	RecTargetDone = 0x04

	// Dictionary records.
	RecObjDict  = 0x10
	RecFunDict  = 0x11
	RecSigDict  = 0x12
	RecUsrDict  = 0x13
	RecEnumDict = 0x14

	// State-machine trace records.
	RecSmTopInit    = 0x20
	RecSmStateInit  = 0x21
	RecSmStateEntry = 0x22
	RecSmStateExit  = 0x23
	RecSmTran       = 0x24
	RecSmInternTran = 0x25
	RecSmDispatch   = 0x26
	RecSmIgnored    = 0x27
	RecSmUnhandled  = 0x28

	// Active-object records.
	RecAoSubscribe    = 0x30
	RecAoUnsubscribe  = 0x31
	RecAoPostFIFO     = 0x32
	RecAoPostLIFO     = 0x33
	RecAoGet          = 0x34
	RecAoGetLast      = 0x35
	RecAoPublish      = 0x36
	RecAoPostAttempt  = 0x37
	RecAoQueueAttempt = 0x38

	// Time-event records.
	RecTeArm        = 0x40
	RecTeDisarm     = 0x41
	RecTeAutoDisarm = 0x42
	RecTeRearm      = 0x43
	RecTePost       = 0x44

	// Memory-pool records.
	RecMpGet        = 0x48
	RecMpPut        = 0x49
	RecMpGetAttempt = 0x4A

	// Mutex / scheduler records.
	RecSchedLock     = 0x50
	RecSchedUnlock   = 0x51
	RecSchedNext     = 0x52
	RecSchedIdle     = 0x53
	RecSchedResume   = 0x54
	RecIsrEntry      = 0x55
	RecIsrExit       = 0x56

	// Assertion record.
	RecAssert = 0x60

	// User records occupy RecUserFirst..RecUserLast inclusive.
	RecUserFirst = 0x70
	RecUserLast  = 0x7F
)

// LineType tags a decoded line and controls its downstream routing: INF
// lines never reach the back-end; ERR and WARN lines bypass quiet mode.
type LineType int

const (
	// RegLine is a regular trace record line, subject to quiet mode.
	RegLine LineType = iota
	// InfLine is an internal informational line; never forwarded to the
	// back-end.
	InfLine
	// ErrLine reports an error; always visible.
	ErrLine
	// UsrLine is an application (user record) line.
	UsrLine
	// WarnLine reports a recoverable anomaly; always visible.
	WarnLine
	// AckLine confirms a locally initiated action.
	AckLine
)

// String returns the conventional three-or-four letter tag of the type.
func (t LineType) String() string {
	switch t {
	case InfLine:
		return "INF"
	case ErrLine:
		return "ERR"
	case UsrLine:
		return "USR"
	case WarnLine:
		return "WARN"
	case AckLine:
		return "ACK"
	default:
		return "REG"
	}
}

// Line is one decoded, formatted trace line ready for fan-out.
type Line struct {
	Type LineType
	Text string
}
