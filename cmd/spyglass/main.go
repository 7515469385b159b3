// Command spyglass is the host-side spy for embedded trace streams. It
// opens the target link (serial, TCP or file replay), decodes the framed
// record stream into human-readable trace lines, serves front-end clients
// over a UDP control channel, and sends control frames back to the target.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/statetrace/spyglass/internal/config"
	"github.com/statetrace/spyglass/internal/link"
	"github.com/statetrace/spyglass/internal/metrics"
	"github.com/statetrace/spyglass/internal/spy"
)

// pollTimeout bounds the event loop's only suspension point.
const pollTimeout = 100 * time.Millisecond

const helpStr = `Usage: spyglass [options]     <arg> = required, [arg] = optional

OPTION            DEFAULT COMMENT
---------------------------------------------------------------
-h                        help (show this message)
-q [num]                  quiet mode (no regular trace output)
-u [UDP_port|0]   7701    UDP control socket, 0 disables
-v <X.Y>          6.6     target protocol version
-o                        save screen output to a file
-s                        save binary trace data to a file
-m                        produce Matlab output to a file
-g <obj_list>             produce sequence diagram to a file
-t [TCP_port]     6601    TCP/IP target input (default link)
-c <serial_port>  /dev/ttyS0 serial port input
-b <baud_rate>    115200  baud rate for the serial port
-f <file_name>            file input (replay a capture)
-d [file_name]            dictionary file
-y <file_name>            YAML configuration file
-M <addr>                 Prometheus /metrics listen address
-T <tstamp_size>  4       timestamp size      (bytes)
-O <pointer_size> 4       object pointer size (bytes)
-F <pointer_size> 4       function ptr size   (bytes)
-S <signal_size>  2       signal size         (bytes)
-E <event_size>   2       event size          (bytes)
-Q <counter_size> 1       queue counter size  (bytes)
-P <counter_size> 2       pool counter size   (bytes)
-B <block_size>   2       pool block size     (bytes)
-C <counter_size> 2       time-event ctr size (bytes)`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()

	// The YAML file, when given, underlays the flags.
	if path := scanConfigFlag(args); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
			return 1
		}
	}

	switch err := parseArgs(cfg, args); {
	case err == errHelp:
		fmt.Println(helpStr)
		return 0
	case err != nil:
		fmt.Fprintf(os.Stderr, "spyglass: %v\n%s\n", err, helpStr)
		return 1
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "spyglass: %v\n%s\n", err, helpStr)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	mux := link.NewMux(pollTimeout)

	// The back-end socket opens before the target link so a front-end can
	// observe the session from its very first record.
	var beConn *net.UDPConn
	if cfg.BackEndPort != 0 {
		var err error
		beConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: cfg.BackEndPort})
		if err != nil {
			fmt.Fprintf(os.Stderr, "spyglass: backend port %d: %v\n", cfg.BackEndPort, err)
			return 1
		}
		if err := mux.AddSource(link.NewFrontEndSource(beConn)); err != nil {
			fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
			return 1
		}
		logger.Info("backend listening", slog.Int("port", cfg.BackEndPort))
	}

	target, err := openTarget(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
		return 1
	}
	if err := mux.SetTarget(target); err != nil {
		fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
		return 1
	}
	logger.Info("target link open",
		slog.String("kind", cfg.Link.String()))

	// The keyboard is optional: replay pipelines run without a terminal.
	if kbd, err := link.OpenKeyboard(); err == nil {
		if err := mux.AddSource(kbd); err != nil {
			fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
			return 1
		}
	} else {
		logger.Debug("no keyboard", slog.Any("reason", err))
	}

	var opts []spy.Option
	if cfg.MetricsAddr != "" {
		met := metrics.NewSet()
		l, err := met.Serve(cfg.MetricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
			return 1
		}
		defer l.Close()
		logger.Info("metrics listening", slog.String("addr", l.Addr().String()))
		opts = append(opts, spy.WithMetrics(met))
	}

	s := spy.New(cfg, logger, mux, opts...)
	if err := s.SetupSinks(); err != nil {
		fmt.Fprintf(os.Stderr, "spyglass: %v\n", err)
		return 1
	}
	// After SetupSinks, so a text sink opened with -o receives the banner.
	s.Banner()
	if beConn != nil {
		s.AttachBackEnd(beConn)
	}
	s.LoadDictionaries()

	return s.Run()
}

// openTarget opens the transport selected on the command line. With no link
// flag the TCP link on its default port is used.
func openTarget(cfg *config.Config, logger *slog.Logger) (link.Target, error) {
	switch cfg.Link {
	case config.LinkSerial:
		return link.OpenSerial(cfg.SerialPort, cfg.BaudRate)
	case config.LinkFile:
		return link.OpenFile(cfg.InputFile)
	default:
		return link.OpenTCP(cfg.TCPPort, logger)
	}
}

// newLogger builds the operational logger: JSON-structured records on
// stderr, keeping stdout clean for trace lines.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
