// Package metrics exposes the Spyglass pipeline counters as Prometheus
// metrics behind an optional /metrics HTTP listener: frames decoded and
// rejected, records lost on the link, lines emitted per type, and commands
// sent to the target.
package metrics

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the pipeline counters. All counters are safe for concurrent
// use, though the event loop is the only writer in practice.
type Set struct {
	registry *prometheus.Registry

	FramesDecoded  prometheus.Counter
	FramesRejected *prometheus.CounterVec
	RecordsLost    prometheus.Counter
	Lines          *prometheus.CounterVec
	CommandsSent   prometheus.Counter
	BytesReceived  prometheus.Counter
}

// NewSet creates and registers the counter set on a private registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spyglass_frames_decoded_total",
			Help: "Frames that passed escape decoding and checksum verification.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spyglass_frames_rejected_total",
			Help: "Frames dropped by the framer, by reason.",
		}, []string{"reason"}),
		RecordsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spyglass_records_lost_total",
			Help: "Records lost according to sequence-number gaps.",
		}),
		Lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spyglass_lines_total",
			Help: "Decoded lines emitted, by line type.",
		}, []string{"type"}),
		CommandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spyglass_commands_sent_total",
			Help: "Command frames sent to the target.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spyglass_target_bytes_total",
			Help: "Raw bytes received from the target link.",
		}),
	}
	s.registry.MustRegister(
		s.FramesDecoded, s.FramesRejected, s.RecordsLost,
		s.Lines, s.CommandsSent, s.BytesReceived,
	)
	return s
}

// Serve starts the /metrics listener on addr and returns the bound
// listener. The server runs until the process exits; trace sessions are
// long-lived and the listener's lifetime matches the process.
func (s *Set) Serve(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %q: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	go http.Serve(l, mux)
	return l, nil
}

// Registry exposes the private registry, mainly for tests.
func (s *Set) Registry() *prometheus.Registry { return s.registry }
