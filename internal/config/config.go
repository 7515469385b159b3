// Package config provides the Spyglass session configuration: the
// width-parameterized target description (timestamp, pointer, signal and
// counter sizes), the target link selection, and the output routing options.
// The configuration is assembled once at startup from command-line flags and
// an optional YAML file, validated, and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LinkKind selects the transport used to reach the target.
type LinkKind int

const (
	// LinkNone means no link was selected on the command line; the TCP
	// link on the default port is used.
	LinkNone LinkKind = iota
	// LinkSerial reads the trace stream from a serial port.
	LinkSerial
	// LinkTCP accepts a target connection on a TCP port.
	LinkTCP
	// LinkFile replays a previously captured binary stream from a file.
	LinkFile
)

// String returns the flag mnemonic of the link kind.
func (k LinkKind) String() string {
	switch k {
	case LinkSerial:
		return "serial"
	case LinkTCP:
		return "tcp"
	case LinkFile:
		return "file"
	default:
		return "none"
	}
}

// Default ports and rates, matching the tool's historical conventions.
const (
	DefaultBackEndPort = 7701
	DefaultTCPPort     = 6601
	DefaultBaudRate    = 115200
	DefaultSerialPort  = "/dev/ttyS0"
)

// Config is the complete Spyglass session configuration.
//
// The width fields describe how the instrumented target packs numeric values
// on the wire. They must be fixed before the first record is parsed; a
// target-info record received at runtime may override them, which is handled
// by the interpreter, not here.
type Config struct {
	// Version is the target protocol version times 100 (660 = 6.6.0).
	Version uint16 `yaml:"version"`

	// BigEndian selects big-endian multi-byte field decoding. The default
	// is little-endian, which covers the common Cortex-M targets.
	BigEndian bool `yaml:"big_endian"`

	// TstampSize is the timestamp width in bytes: 1, 2 or 4.
	TstampSize uint8 `yaml:"tstamp_size"`
	// ObjPtrSize is the object pointer width in bytes: 2, 4 or 8.
	ObjPtrSize uint8 `yaml:"obj_ptr_size"`
	// FunPtrSize is the function pointer width in bytes: 2, 4 or 8.
	FunPtrSize uint8 `yaml:"fun_ptr_size"`
	// SigSize is the signal width in bytes: 1, 2 or 4.
	SigSize uint8 `yaml:"sig_size"`
	// EvtSize is the event-size field width in bytes: 1, 2 or 4.
	EvtSize uint8 `yaml:"evt_size"`
	// QueueCtrSize is the queue counter width in bytes: 1, 2 or 4.
	QueueCtrSize uint8 `yaml:"queue_ctr_size"`
	// PoolCtrSize is the memory-pool counter width in bytes: 1, 2 or 4.
	PoolCtrSize uint8 `yaml:"pool_ctr_size"`
	// PoolBlkSize is the memory-pool block-size width in bytes: 1, 2 or 4.
	PoolBlkSize uint8 `yaml:"pool_blk_size"`
	// TevtCtrSize is the time-event counter width in bytes: 1, 2 or 4.
	TevtCtrSize uint8 `yaml:"tevt_ctr_size"`

	// Link selects the target transport. Exactly one of the serial, TCP
	// and file link options may be requested on the command line.
	Link LinkKind `yaml:"-"`

	// SerialPort is the serial device path used when Link == LinkSerial.
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the serial line rate used when Link == LinkSerial.
	BaudRate int `yaml:"baud_rate"`
	// TCPPort is the listen port used when Link == LinkTCP.
	TCPPort int `yaml:"tcp_port"`
	// InputFile is the capture file replayed when Link == LinkFile.
	InputFile string `yaml:"-"`

	// BackEndPort is the UDP port of the front-end control channel.
	// Zero disables the back-end entirely.
	BackEndPort int `yaml:"backend_port"`

	// Quiet is the stdout throttling policy: -1 off, 0 suppress all
	// regular lines, n>0 print one regular line in n.
	Quiet int `yaml:"quiet"`

	// SeqList is the comma-separated active-object list for the sequence
	// diagram sink. Empty disables the sink.
	SeqList string `yaml:"seq_list"`

	// DictFile is the dictionary file path. "?" requests an auto-derived
	// name; empty disables dictionary persistence.
	DictFile string `yaml:"dict_file"`

	// TextOut, BinaryOut, MatlabOut request the corresponding sinks to be
	// opened at startup with timestamped file names.
	TextOut   bool `yaml:"text_out"`
	BinaryOut bool `yaml:"binary_out"`
	MatlabOut bool `yaml:"matlab_out"`

	// LogLevel sets the minimum operational log severity: "debug",
	// "info", "warn", or "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr is the optional listen address for the Prometheus
	// /metrics endpoint. Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration for a typical 32-bit little-endian
// target speaking protocol version 6.6.
func Default() *Config {
	return &Config{
		Version:      660,
		TstampSize:   4,
		ObjPtrSize:   4,
		FunPtrSize:   4,
		SigSize:      2,
		EvtSize:      2,
		QueueCtrSize: 1,
		PoolCtrSize:  2,
		PoolBlkSize:  2,
		TevtCtrSize:  2,
		SerialPort:   DefaultSerialPort,
		BaudRate:     DefaultBaudRate,
		TCPPort:      DefaultTCPPort,
		BackEndPort:  DefaultBackEndPort,
		Quiet:        -1,
		LogLevel:     "info",
	}
}

// validSmallWidths is the accepted set for timestamp, signal, event and
// counter widths.
var validSmallWidths = map[uint8]bool{1: true, 2: true, 4: true}

// validPtrWidths is the accepted set for object and function pointer widths.
var validPtrWidths = map[uint8]bool{2: true, 4: true, 8: true}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadFile overlays cfg with the YAML file at path. Fields absent from the
// file keep their current values. LoadFile is called before flag overrides
// are applied, so flags win over the file.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	return nil
}

// Validate checks the width fields against their accepted sets and the
// remaining fields for internal consistency. It returns all violations
// joined into a single error.
func Validate(cfg *Config) error {
	var errs []error

	check := func(name string, v uint8, set map[uint8]bool) {
		if !set[v] {
			errs = append(errs, fmt.Errorf("%s %d is not an accepted width", name, v))
		}
	}
	check("tstamp_size", cfg.TstampSize, validSmallWidths)
	check("obj_ptr_size", cfg.ObjPtrSize, validPtrWidths)
	check("fun_ptr_size", cfg.FunPtrSize, validPtrWidths)
	check("sig_size", cfg.SigSize, validSmallWidths)
	check("evt_size", cfg.EvtSize, validSmallWidths)
	check("queue_ctr_size", cfg.QueueCtrSize, validSmallWidths)
	check("pool_ctr_size", cfg.PoolCtrSize, validSmallWidths)
	check("pool_blk_size", cfg.PoolBlkSize, validSmallWidths)
	check("tevt_ctr_size", cfg.TevtCtrSize, validSmallWidths)

	if cfg.Link == LinkSerial && cfg.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud rate %d is not positive", cfg.BaudRate))
	}
	if cfg.Link == LinkTCP && (cfg.TCPPort <= 0 || cfg.TCPPort > 65535) {
		errs = append(errs, fmt.Errorf("tcp port %d out of range", cfg.TCPPort))
	}
	if cfg.BackEndPort < 0 || cfg.BackEndPort > 65535 {
		errs = append(errs, fmt.Errorf("backend port %d out of range", cfg.BackEndPort))
	}
	if cfg.Quiet < -1 {
		errs = append(errs, fmt.Errorf("quiet mode %d must be -1 or higher", cfg.Quiet))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseVersion converts an "X.Y" protocol version string into the numeric
// form stored in Config (6.6 -> 660).
func ParseVersion(s string) (uint16, error) {
	if len(s) != 3 || s[0] < '0' || s[0] > '9' || s[1] != '.' || s[2] < '0' || s[2] > '9' {
		return 0, fmt.Errorf("config: incorrect version number %q", s)
	}
	return uint16(s[0]-'0')*100 + uint16(s[2]-'0')*10, nil
}
