package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/statetrace/spyglass/internal/config"
)

// errHelp requests the usage banner with a zero exit code.
var errHelp = errors.New("help requested")

// scanConfigFlag pre-scans for -y so the YAML file underlays every other
// flag regardless of position.
func scanConfigFlag(args []string) string {
	for i, a := range args {
		if a == "-y" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "-y") && len(a) > 2 {
			return a[2:]
		}
	}
	return ""
}

// argScanner walks the argument list with getopt-like semantics: a
// required value may be attached ("-c/dev/ttyUSB0") or separate
// ("-c /dev/ttyUSB0"); an optional value must be attached ("-q3").
type argScanner struct {
	args []string
	pos  int
}

// optional returns the value attached to the current flag, if any.
func (s *argScanner) optional(attached string) (string, bool) {
	return attached, attached != ""
}

// required returns the attached or following value, or an error.
func (s *argScanner) required(flag byte, attached string) (string, error) {
	if attached != "" {
		return attached, nil
	}
	s.pos++
	if s.pos >= len(s.args) {
		return "", fmt.Errorf("option -%c requires a value", flag)
	}
	return s.args[s.pos], nil
}

// parseArgs applies the command-line options to cfg.
func parseArgs(cfg *config.Config, args []string) error {
	s := &argScanner{args: args}

	setLink := func(k config.LinkKind) error {
		if cfg.Link != config.LinkNone && cfg.Link != k {
			return fmt.Errorf("the -c/-b, -t and -f options are mutually exclusive")
		}
		cfg.Link = k
		return nil
	}

	parsePort := func(flag byte, v string) (int, error) {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 65535 {
			return 0, fmt.Errorf("option -%c: bad port %q", flag, v)
		}
		return p, nil
	}

	parseWidth := func(flag byte, attached string, dst *uint8) error {
		v, err := s.required(flag, attached)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 8 {
			return fmt.Errorf("option -%c: bad size %q", flag, v)
		}
		*dst = uint8(n)
		return nil
	}

	for ; s.pos < len(s.args); s.pos++ {
		arg := s.args[s.pos]
		if len(arg) < 2 || arg[0] != '-' {
			return fmt.Errorf("unexpected argument %q", arg)
		}
		flag := arg[1]
		attached := arg[2:]

		switch flag {
		case 'h':
			return errHelp

		case 'q':
			cfg.Quiet = 0
			if v, ok := s.optional(attached); ok {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return fmt.Errorf("option -q: bad count %q", v)
				}
				cfg.Quiet = n
			}

		case 'u':
			cfg.BackEndPort = config.DefaultBackEndPort
			if v, ok := s.optional(attached); ok {
				p, err := parsePort('u', v)
				if err != nil {
					return err
				}
				cfg.BackEndPort = p
			}

		case 'v':
			v, err := s.required('v', attached)
			if err != nil {
				return err
			}
			ver, err := config.ParseVersion(v)
			if err != nil {
				return err
			}
			cfg.Version = ver

		case 'o':
			cfg.TextOut = true
		case 's':
			cfg.BinaryOut = true
		case 'm':
			cfg.MatlabOut = true

		case 'g':
			v, err := s.required('g', attached)
			if err != nil {
				return err
			}
			if v == "" {
				return fmt.Errorf("empty object list for the sequence diagram")
			}
			cfg.SeqList = v

		case 't':
			if err := setLink(config.LinkTCP); err != nil {
				return err
			}
			if v, ok := s.optional(attached); ok {
				p, err := parsePort('t', v)
				if err != nil {
					return err
				}
				cfg.TCPPort = p
			}

		case 'c':
			if err := setLink(config.LinkSerial); err != nil {
				return err
			}
			v, err := s.required('c', attached)
			if err != nil {
				return err
			}
			cfg.SerialPort = v

		case 'b':
			if err := setLink(config.LinkSerial); err != nil {
				return err
			}
			v, err := s.required('b', attached)
			if err != nil {
				return err
			}
			rate, err := strconv.Atoi(v)
			if err != nil || rate <= 0 {
				return fmt.Errorf("incorrect baud rate %q", v)
			}
			cfg.BaudRate = rate

		case 'f':
			if err := setLink(config.LinkFile); err != nil {
				return err
			}
			v, err := s.required('f', attached)
			if err != nil {
				return err
			}
			cfg.InputFile = v

		case 'd':
			cfg.DictFile = "?"
			if v, ok := s.optional(attached); ok {
				cfg.DictFile = v
			}

		case 'y':
			// Already consumed by the pre-scan; skip its value.
			if attached == "" {
				s.pos++
			}

		case 'M':
			v, err := s.required('M', attached)
			if err != nil {
				return err
			}
			cfg.MetricsAddr = v

		case 'p':
			return fmt.Errorf("the -p option is obsolete, use -t[port]")

		case 'T':
			if err := parseWidth('T', attached, &cfg.TstampSize); err != nil {
				return err
			}
		case 'O':
			if err := parseWidth('O', attached, &cfg.ObjPtrSize); err != nil {
				return err
			}
		case 'F':
			if err := parseWidth('F', attached, &cfg.FunPtrSize); err != nil {
				return err
			}
		case 'S':
			if err := parseWidth('S', attached, &cfg.SigSize); err != nil {
				return err
			}
		case 'E':
			if err := parseWidth('E', attached, &cfg.EvtSize); err != nil {
				return err
			}
		case 'Q':
			if err := parseWidth('Q', attached, &cfg.QueueCtrSize); err != nil {
				return err
			}
		case 'P':
			if err := parseWidth('P', attached, &cfg.PoolCtrSize); err != nil {
				return err
			}
		case 'B':
			if err := parseWidth('B', attached, &cfg.PoolBlkSize); err != nil {
				return err
			}
		case 'C':
			if err := parseWidth('C', attached, &cfg.TevtCtrSize); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown option -%c", flag)
		}
	}

	return nil
}
