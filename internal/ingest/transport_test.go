package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"evguard/internal/config"
	"evguard/internal/model"
)

func nextSample(t *testing.T, in *Ingress) model.SignalSample {
	t.Helper()
	select {
	case s := <-in.Samples():
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("no sample arrived")
	}
	return model.SignalSample{}
}

func TestSignalUDPValidatesFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := newTestIngress(8)
	addr, err := StartSignalUDP(ctx, "127.0.0.1:0", in, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	for _, frame := range [][]byte{{50, 1, 0, 0}, {1, 2}, {60, 3, 0, 0}} {
		if _, err := conn.Write(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	s := nextSample(t, in)
	if s.Value != 50 || s.EntityKey != "1" || s.Transport != "udp" {
		t.Fatalf("unexpected first sample %+v", s)
	}
	// the two-byte frame is dropped as malformed
	if s := nextSample(t, in); s.Value != 60 || s.EntityKey != "3" {
		t.Fatalf("unexpected second sample %+v", s)
	}
}

func TestSignalTCPTextAndCandump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := newTestIngress(8)
	addr, err := StartSignalTCP(ctx, "127.0.0.1:0", in, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	lines := "50,1,0,0\n# bench capture\n(1700000000.000000) vcan0 123#3C02000000000000\n"
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if s := nextSample(t, in); s.Value != 50 || s.EntityKey != "1" || s.Transport != "tcp" {
		t.Fatalf("unexpected text sample %+v", s)
	}
	if s := nextSample(t, in); s.Value != 60 || s.EntityKey != "2" {
		t.Fatalf("unexpected candump sample %+v", s)
	}
}

func TestSignalTCPReleasesClosedConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := newTestIngress(256)
	addr, err := StartSignalTCP(ctx, "127.0.0.1:0", in, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// warm up once so the accept loop and runtime helpers are already counted
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = fmt.Fprintf(conn, "1,1,0,0\n")
	conn.Close()
	nextSample(t, in)
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 100; i++ {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		_, _ = fmt.Fprintf(conn, "%d,1,0,0\n", i%30)
		conn.Close()
		nextSample(t, in)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > baseline+2 {
		if time.Now().After(deadline) {
			t.Fatalf("connection goroutines leaked: baseline %d, now %d", baseline, runtime.NumGoroutine())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFileTailReopensTruncatedFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := newTestIngress(8)
	path := filepath.Join(t.TempDir(), "capture.log")
	if err := os.WriteFile(path, []byte("10,1,0,0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	StartFileTail(ctx, config.FileTailConfig{Enabled: true, Files: []string{path}}, in, nil)

	if s := nextSample(t, in); s.Value != 10 || s.EntityKey != "1" || s.Transport != "file_tail" {
		t.Fatalf("unexpected first sample %+v", s)
	}

	// shorter than what was already read, so the tail must start over from the top
	if err := os.WriteFile(path, []byte("5,2,0,0\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if s := nextSample(t, in); s.Value != 5 || s.EntityKey != "2" {
		t.Fatalf("unexpected sample after truncation %+v", s)
	}
}
