// Package supervisor launches the bridge as a detached background process and
// manages it through a pid file.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	logs "github.com/danmuck/qbridge/internal/logging"
)

var (
	ErrAlreadyRunning = errors.New("supervisor: already running")
	ErrNotRunning     = errors.New("supervisor: not running")
	ErrNotReady       = errors.New("supervisor: not ready before timeout")
	ErrExited         = errors.New("supervisor: process exited during startup")
	ErrBinaryMissing  = errors.New("supervisor: binary not found")
	ErrPortInUse      = errors.New("supervisor: listen address in use")
	ErrInvalidConfig  = errors.New("supervisor: invalid config")
)

// pidGrace is how long after launch a live pid is trusted without its listen
// address answering.
const pidGrace = time.Minute

type Config struct {
	Binary       string
	Args         []string
	PIDFile      string
	LogFile      string
	WorkDir      string
	StopTimeout  time.Duration
	ReadyTimeout time.Duration
	// Addr is the TCP address polled for readiness; empty skips the probe.
	Addr    string
	Backoff BackoffConfig
}

type Status struct {
	PID     int    `json:"pid"`
	Running bool   `json:"running"`
	Stale   bool   `json:"stale"`
	PIDFile string `json:"pid_file"`
	LogFile string `json:"log_file"`
}

type Supervisor struct {
	cfg Config
	rng *rand.Rand
}

// New validates cfg and fills in default timeouts and backoff.
func New(cfg Config) (*Supervisor, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, fmt.Errorf("%w: binary is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.PIDFile) == "" {
		return nil, fmt.Errorf("%w: pid file is required", ErrInvalidConfig)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	return &Supervisor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Supervisor) Config() Config {
	return s.cfg
}

// Status reads the pid file and checks whether the recorded process is alive.
func (s *Supervisor) Status() (Status, error) {
	st := Status{PIDFile: s.cfg.PIDFile, LogFile: s.cfg.LogFile}
	pid, err := ReadPID(s.cfg.PIDFile)
	if err != nil {
		return st, err
	}
	st.PID = pid
	if pid == 0 {
		return st, nil
	}
	st.Running = processAlive(pid) && s.owns(pid)
	st.Stale = !st.Running
	return st, nil
}

// owns reports whether a live pid is still the launched bridge. A pid file
// older than startup plus pidGrace must be backed by an answering listen
// address, so a reused pid after a reboot is never signalled.
func (s *Supervisor) owns(pid int) bool {
	addr := dialAddr(s.cfg.Addr)
	if addr == "" {
		return true
	}
	info, err := os.Stat(s.cfg.PIDFile)
	if err == nil && time.Since(info.ModTime()) < s.cfg.ReadyTimeout+pidGrace {
		return true
	}
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		logs.Warnf("supervisor.Supervisor.owns pid=%d alive but %s not answering; treating as stale", pid, addr)
		return false
	}
	_ = conn.Close()
	return true
}

// Start launches the binary detached from the caller's session and waits for
// its listen address to accept connections.
func (s *Supervisor) Start(ctx context.Context) (Status, error) {
	st, err := s.Status()
	if err != nil && !errors.Is(err, ErrBadPIDFile) {
		return st, err
	}
	if st.Running {
		logs.Warnf("supervisor.Supervisor.Start already running pid=%d", st.PID)
		return st, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, st.PID)
	}
	if st.Stale || errors.Is(err, ErrBadPIDFile) {
		logs.Warnf("supervisor.Supervisor.Start clearing stale pid file=%s pid=%d", s.cfg.PIDFile, st.PID)
		if err := RemovePID(s.cfg.PIDFile); err != nil {
			return st, err
		}
	}

	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.SysProcAttr = detachAttr()
	var logFile *os.File
	if s.cfg.LogFile != "" {
		logFile, err = openLog(s.cfg.LogFile)
		if err != nil {
			return st, fmt.Errorf("open log file: %w", err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return st, fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}
	pid := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(exited)
	}()

	if err := WritePID(s.cfg.PIDFile, pid); err != nil {
		_ = cmd.Process.Kill()
		return st, fmt.Errorf("write pid file: %w", err)
	}
	logs.Infof("supervisor.Supervisor.Start launched pid=%d binary=%s log=%s", pid, s.cfg.Binary, s.cfg.LogFile)

	st = Status{PID: pid, Running: true, PIDFile: s.cfg.PIDFile, LogFile: s.cfg.LogFile}
	if err := s.waitReady(ctx, pid, exited); err != nil {
		if errors.Is(err, ErrExited) {
			st.Running = false
			_ = RemovePID(s.cfg.PIDFile)
		}
		return st, err
	}
	return st, nil
}

func (s *Supervisor) waitReady(ctx context.Context, pid int, exited <-chan struct{}) error {
	addr := dialAddr(s.cfg.Addr)
	if addr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		conn, err := (&net.Dialer{Timeout: 500 * time.Millisecond}).DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			logs.Infof("supervisor.Supervisor.waitReady ready pid=%d addr=%s attempts=%d", pid, addr, attempt)
			return nil
		}
		delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
		logs.Debugf("supervisor.Supervisor.waitReady attempt=%d addr=%s retry_in=%s err=%v", attempt, addr, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-exited:
			timer.Stop()
			logs.Errf("supervisor.Supervisor.waitReady exited pid=%d log=%s", pid, s.cfg.LogFile)
			return fmt.Errorf("%w (pid %d, see %s)", ErrExited, pid, s.cfg.LogFile)
		case <-ctx.Done():
			timer.Stop()
			logs.Warnf("supervisor.Supervisor.waitReady timeout pid=%d addr=%s", pid, addr)
			return fmt.Errorf("%w: %s after %s", ErrNotReady, addr, s.cfg.ReadyTimeout)
		case <-timer.C:
		}
		if !processAlive(pid) {
			return fmt.Errorf("%w (pid %d, see %s)", ErrExited, pid, s.cfg.LogFile)
		}
	}
}

// Stop sends SIGTERM, escalating to SIGKILL after StopTimeout.
func (s *Supervisor) Stop(ctx context.Context) error {
	st, err := s.Status()
	if errors.Is(err, ErrBadPIDFile) {
		_ = RemovePID(s.cfg.PIDFile)
		return fmt.Errorf("%w: removed malformed pid file %s", ErrNotRunning, s.cfg.PIDFile)
	}
	if err != nil {
		return err
	}
	if st.PID == 0 {
		return ErrNotRunning
	}
	if !st.Running {
		logs.Warnf("supervisor.Supervisor.Stop stale pid=%d file=%s", st.PID, s.cfg.PIDFile)
		_ = RemovePID(s.cfg.PIDFile)
		return fmt.Errorf("%w: removed stale pid %d", ErrNotRunning, st.PID)
	}

	logs.Infof("supervisor.Supervisor.Stop terminating pid=%d", st.PID)
	if err := terminate(st.PID); err != nil && processAlive(st.PID) {
		return fmt.Errorf("signal pid %d: %w", st.PID, err)
	}
	if !waitExit(ctx, st.PID, s.cfg.StopTimeout) {
		logs.Warnf("supervisor.Supervisor.Stop escalating pid=%d after=%s", st.PID, s.cfg.StopTimeout)
		if err := kill(st.PID); err != nil && processAlive(st.PID) {
			return fmt.Errorf("kill pid %d: %w", st.PID, err)
		}
		if !waitExit(ctx, st.PID, 2*time.Second) {
			return fmt.Errorf("supervisor: pid %d survived SIGKILL", st.PID)
		}
	}
	if err := RemovePID(s.cfg.PIDFile); err != nil {
		return err
	}
	logs.Infof("supervisor.Supervisor.Stop stopped pid=%d", st.PID)
	return nil
}

// Restart stops any running instance and launches a fresh one.
func (s *Supervisor) Restart(ctx context.Context) (Status, error) {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return Status{PIDFile: s.cfg.PIDFile, LogFile: s.cfg.LogFile}, err
	}
	return s.Start(ctx)
}

// Preflight reports every problem that would stop Start from succeeding.
func (s *Supervisor) Preflight() error {
	var errs []error
	if _, err := exec.LookPath(s.cfg.Binary); err != nil {
		errs = append(errs, fmt.Errorf("%w: %s: %v", ErrBinaryMissing, s.cfg.Binary, err))
	}
	if s.cfg.Addr != "" {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrPortInUse, s.cfg.Addr, err))
		} else {
			_ = ln.Close()
		}
	}
	if s.cfg.WorkDir != "" {
		if info, err := os.Stat(s.cfg.WorkDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("%w: work dir %s is not a directory", ErrInvalidConfig, s.cfg.WorkDir))
		}
	}
	return errors.Join(errs...)
}

func waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if !processAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !processAlive(pid)
		case <-deadline.C:
			return !processAlive(pid)
		case <-tick.C:
		}
	}
}

func openLog(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// dialAddr turns a listen address into one a client can connect to.
func dialAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
