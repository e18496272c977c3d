package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/testutil/testlog"
)

func requireUnixTools(t *testing.T, tools ...string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests need a unix host")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	if cfg.PIDFile == "" {
		cfg.PIDFile = filepath.Join(dir, "qbridge.pid")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(dir, "logs", "qbridge.log")
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	cfg.Backoff = BackoffConfig{InitialDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: 200 * time.Millisecond}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	return s
}

func TestNewRequiresBinaryAndPIDFile(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{PIDFile: "x.pid"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := New(Config{Binary: "qbridge"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "sleep")
	s := newTestSupervisor(t, Config{Binary: "sleep", Args: []string{"30"}})
	ctx := context.Background()

	st, err := s.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	logs.Logf("started pid=%d", st.PID)
	if !st.Running || st.PID <= 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if pid, _ := ReadPID(s.Config().PIDFile); pid != st.PID {
		t.Fatalf("pid file mismatch: %d vs %d", pid, st.PID)
	}
	if _, err := os.Stat(s.Config().LogFile); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if _, err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	after, err := s.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if after.Running || after.PID != 0 {
		t.Fatalf("expected stopped status, got %+v", after)
	}
	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRestartLaunchesFreshProcess(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "sleep")
	s := newTestSupervisor(t, Config{Binary: "sleep", Args: []string{"30"}})
	ctx := context.Background()

	first, err := s.Restart(ctx)
	if err != nil {
		t.Fatalf("restart from stopped: %v", err)
	}
	second, err := s.Restart(ctx)
	if err != nil {
		t.Fatalf("restart running: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	if first.PID == second.PID {
		t.Fatalf("expected new pid, got %d twice", first.PID)
	}
	if processAlive(first.PID) {
		t.Fatalf("old process %d still alive", first.PID)
	}
}

func TestStalePIDFileIsCleared(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "true")
	done := exec.Command("true")
	if err := done.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	s := newTestSupervisor(t, Config{Binary: "true"})
	if err := WritePID(s.Config().PIDFile, done.ProcessState.Pid()); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || !st.Stale {
		t.Fatalf("expected stale status, got %+v", st)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if pid, _ := ReadPID(s.Config().PIDFile); pid != 0 {
		t.Fatalf("stale pid file not removed")
	}
}

func TestStopIgnoresReusedPID(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "sleep")
	other := exec.Command("sleep", "30")
	if err := other.Start(); err != nil {
		t.Fatalf("start unrelated process: %v", err)
	}
	t.Cleanup(func() {
		_ = other.Process.Kill()
		_ = other.Wait()
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := newTestSupervisor(t, Config{Binary: "sleep", Addr: addr, ReadyTimeout: time.Second})
	if err := WritePID(s.Config().PIDFile, other.Process.Pid); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(s.Config().PIDFile, old, old); err != nil {
		t.Fatalf("age pid file: %v", err)
	}

	st, err := s.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || !st.Stale {
		t.Fatalf("old pid without a listener should be stale: %+v", st)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if !processAlive(other.Process.Pid) {
		t.Fatalf("unrelated process was signalled")
	}
	if pid, _ := ReadPID(s.Config().PIDFile); pid != 0 {
		t.Fatalf("stale pid file not removed")
	}
}

func TestStartWaitsForListener(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "sleep")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	s := newTestSupervisor(t, Config{Binary: "sleep", Args: []string{"30"}, Addr: ln.Addr().String(), ReadyTimeout: time.Second})
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartReportsNotReadyAndExited(t *testing.T) {
	testlog.Start(t)
	requireUnixTools(t, "sleep", "false")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	slow := newTestSupervisor(t, Config{Binary: "sleep", Args: []string{"30"}, Addr: addr, ReadyTimeout: 300 * time.Millisecond})
	st, err := slow.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if !st.Running {
		t.Fatalf("process should be left running: %+v", st)
	}
	if err := slow.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	dead := newTestSupervisor(t, Config{Binary: "false", Addr: addr, ReadyTimeout: 2 * time.Second})
	if _, err := dead.Start(context.Background()); !errors.Is(err, ErrExited) {
		t.Fatalf("expected ErrExited, got %v", err)
	}
	if pid, _ := ReadPID(dead.Config().PIDFile); pid != 0 {
		t.Fatalf("pid file should be removed after early exit")
	}
}

func TestPreflight(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	s := newTestSupervisor(t, Config{Binary: "qbridge-missing-binary", Addr: ln.Addr().String()})
	err = s.Preflight()
	if !errors.Is(err, ErrBinaryMissing) || !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected missing binary and port in use, got %v", err)
	}
}

func TestBadPIDFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPID(path); !errors.Is(err, ErrBadPIDFile) {
		t.Fatalf("expected ErrBadPIDFile, got %v", err)
	}
	if pid, err := ReadPID(filepath.Join(t.TempDir(), "missing.pid")); pid != 0 || err != nil {
		t.Fatalf("missing pid file should be empty: pid=%d err=%v", pid, err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	if got := NextBackoffDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 400*time.Millisecond {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := NextBackoffDelay(cfg, 10, nil); got != time.Second {
		t.Fatalf("attempt 10 should cap: %v", got)
	}
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{
		":8765":         "127.0.0.1:8765",
		"0.0.0.0:8765":  "127.0.0.1:8765",
		"10.0.0.5:8765": "10.0.0.5:8765",
		"":              "",
	}
	for in, want := range cases {
		if got := dialAddr(in); got != want {
			t.Fatalf("dialAddr(%q)=%q want %q", in, got, want)
		}
	}
}
