package config

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/danmuck/qbridge/internal/bridge"
	"github.com/danmuck/qbridge/internal/probe"
	"github.com/danmuck/qbridge/internal/supervisor"
	"github.com/danmuck/qbridge/internal/tools"
)

// BridgeRuntime maps the [bridge] section onto the service config.
func (c Config) BridgeRuntime() bridge.Config {
	b := c.Bridge
	cfg := bridge.DefaultConfig()
	cfg.Name = b.Name
	cfg.Addr = b.Addr
	cfg.CorsOrigins = append([]string(nil), b.CorsOrigins...)
	cfg.APIToken = b.APIToken
	cfg.Preset = b.Preset
	cfg.EntangleOnBoot = b.EntangleOnBoot
	cfg.Peers = append([]string(nil), b.Peers...)
	cfg.StatusFile = b.StatusFile
	cfg.StatusInterval = b.StatusInterval.Duration
	cfg.HeartbeatInterval = b.HeartbeatInterval.Duration
	cfg.ShutdownTimeout = b.ShutdownTimeout.Duration
	cfg.HistoryDSN = b.HistoryDSN
	cfg.MaxHistory = b.MaxHistory
	return cfg
}

// SupervisorRuntime maps [supervisor] onto the launcher config. When no args
// are configured the child is pointed at configPath, and it always gets the
// effective listen address so it binds what the readiness probe dials.
func (c Config) SupervisorRuntime(configPath string) supervisor.Config {
	s := c.Supervisor
	args := append([]string(nil), s.Args...)
	if len(args) == 0 && configPath != "" && Exists(configPath) {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = []string{"--config", configPath}
	}
	if addr := strings.TrimSpace(c.Bridge.Addr); addr != "" && !hasFlag(args, "--addr") {
		args = append(args, "--addr", addr)
	}
	return supervisor.Config{
		Binary:       s.Binary,
		Args:         args,
		PIDFile:      s.PIDFile,
		LogFile:      s.LogFile,
		WorkDir:      s.WorkDir,
		StopTimeout:  s.StopTimeout.Duration,
		ReadyTimeout: s.ReadyTimeout.Duration,
		Addr:         c.Bridge.Addr,
	}
}

// ProbeTarget points the probe at the configured bridge port.
func (c Config) ProbeTarget() probe.Target {
	port, _ := c.Bridge.Port()
	return probe.Target{
		Host:    c.Probe.Host,
		Port:    port,
		Timeout: c.Probe.Timeout.Duration,
	}
}

// Runner returns an SSH runner when [ssh] names a host, else the local runner.
func (c Config) Runner() tools.CommandRunner {
	if strings.TrimSpace(c.SSH.Host) == "" {
		return tools.ExecRunner{}
	}
	return tools.SSHRunner{
		Host:                        c.SSH.Host,
		Port:                        c.SSH.Port,
		User:                        c.SSH.User,
		KeyPath:                     c.SSH.KeyPath,
		KnownHostsPath:              c.SSH.KnownHosts,
		InsecureSkipHostKeyChecking: c.SSH.Insecure,
		Timeout:                     c.SSH.Timeout.Duration,
	}
}

// Remote reports whether commands run over SSH.
func (c Config) Remote() bool {
	return strings.TrimSpace(c.SSH.Host) != ""
}

// FirewallExecutable is the program a per-application firewall should allow:
// the configured path, else the resolved supervisor binary.
func (c Config) FirewallExecutable() string {
	if exe := strings.TrimSpace(c.Firewall.Executable); exe != "" {
		return exe
	}
	bin := c.Supervisor.Binary
	if filepath.IsAbs(bin) {
		return bin
	}
	if !c.Remote() {
		if abs, err := exec.LookPath(bin); err == nil {
			return abs
		}
	}
	return bin
}

// TargetOS is the OS the firewall commands will run on. Remote hosts are
// assumed to be Linux.
func (c Config) TargetOS() string {
	if c.Remote() {
		return "linux"
	}
	return runtime.GOOS
}

func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag || strings.HasPrefix(arg, flag+"=") {
			return true
		}
	}
	return false
}
