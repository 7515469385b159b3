package link_test

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/statetrace/spyglass/internal/link"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// nextOfType pumps the mux until an event of the wanted type arrives or the
// deadline passes, skipping NoEvent ticks.
func nextOfType(t *testing.T, m *link.Mux, want link.EventType) link.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := m.NextEvent()
		if ev.Type == link.NoEvent {
			continue
		}
		if ev.Type != want {
			t.Fatalf("event = %v (err=%v), want type %v", ev.Type, ev.Err, want)
		}
		return ev
	}
	t.Fatalf("timed out waiting for event type %v", want)
	return link.Event{}
}

func TestMux_TimeoutYieldsNoEvent(t *testing.T) {
	m := link.NewMux(10 * time.Millisecond)
	defer m.Close()

	start := time.Now()
	ev := m.NextEvent()
	if ev.Type != link.NoEvent {
		t.Fatalf("event = %v, want NoEvent", ev.Type)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("NextEvent returned after %v, want ~10ms", elapsed)
	}
}

func TestFileTarget_ReplayThenDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	payload := bytes.Repeat([]byte{0x26, 0x00, 0xD9, 0x00}, 100)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	ft, err := link.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	m := link.NewMux(10 * time.Millisecond)
	defer m.Close()
	if err := m.SetTarget(ft); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := m.NextEvent()
		switch ev.Type {
		case link.TargetBytes:
			got = append(got, ev.Data...)
		case link.Done:
			if !bytes.Equal(got, payload) {
				t.Fatalf("replayed %d bytes, want %d", len(got), len(payload))
			}
			return
		case link.Error:
			t.Fatalf("replay error: %v", ev.Err)
		}
	}
	t.Fatal("replay never finished")
}

func TestFileTarget_CannotSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ft, err := link.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()
	if err := ft.Send([]byte{1}); err == nil {
		t.Error("Send on file replay succeeded")
	}
}

func TestOpenFile_Missing(t *testing.T) {
	if _, err := link.OpenFile("/nonexistent/capture.bin"); err == nil {
		t.Error("OpenFile on missing file succeeded")
	}
}

func TestTCPTarget_ReceiveAndSend(t *testing.T) {
	tt, err := link.OpenTCP(0, discard)
	if err != nil {
		t.Fatalf("OpenTCP: %v", err)
	}
	m := link.NewMux(10 * time.Millisecond)
	defer m.Close()
	if err := m.SetTarget(tt); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	// Simulated target dials in and emits trace bytes.
	conn, err := net.Dial("tcp", tt.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := []byte{0x01, 0x00, 0xFE, 0x00}
	if _, err := conn.Write(want); err != nil {
		t.Fatal(err)
	}

	ev := nextOfType(t, m, link.TargetBytes)
	if !bytes.Equal(ev.Data, want) {
		t.Errorf("target bytes = % x, want % x", ev.Data, want)
	}

	// Commands flow back over the same connection.
	cmd := []byte{0x00, 0x00, 0xFF, 0x00}
	if err := m.SendToTarget(cmd); err != nil {
		t.Fatalf("SendToTarget: %v", err)
	}
	buf := make([]byte, len(cmd))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("target read: %v", err)
	}
	if !bytes.Equal(buf, cmd) {
		t.Errorf("command = % x, want % x", buf, cmd)
	}
}

func TestTCPTarget_SendWithoutConnection(t *testing.T) {
	tt, err := link.OpenTCP(0, discard)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Close()
	if err := tt.Send([]byte{1}); err == nil {
		t.Error("Send with no target connected succeeded")
	}
}

func TestFrontEndSource_Datagrams(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	m := link.NewMux(10 * time.Millisecond)
	defer m.Close()
	if err := m.AddSource(link.NewFrontEndSource(conn)); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if _, err := client.Write([]byte{0x01, 0x00, 0xAB}); err != nil {
		t.Fatal(err)
	}

	ev := nextOfType(t, m, link.FrontEndBytes)
	if !bytes.Equal(ev.Data, []byte{0x01, 0x00, 0xAB}) {
		t.Errorf("datagram = % x", ev.Data)
	}
	if ev.Addr == nil {
		t.Error("datagram missing sender address")
	}
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ft, err := link.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ft.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := ft.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	tt, err := link.OpenTCP(0, discard)
	if err != nil {
		t.Fatal(err)
	}
	if err := tt.Close(); err != nil {
		t.Errorf("tcp first Close: %v", err)
	}
	if err := tt.Close(); err != nil {
		t.Errorf("tcp second Close: %v", err)
	}
}
