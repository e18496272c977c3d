package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/qbridge/internal/testutil/testlog"
)

func TestDefaultValidates(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	port, err := cfg.Bridge.Port()
	if err != nil || port != DefaultPort {
		t.Fatalf("unexpected port: %d err=%v", port, err)
	}
	if cfg.Bridge.StatusInterval.Duration != 5*time.Second {
		t.Fatalf("unexpected status interval: %v", cfg.Bridge.StatusInterval)
	}
	if cfg.Bridge.StatusFile != "quantum_network_status.json" {
		t.Fatalf("unexpected status file: %q", cfg.Bridge.StatusFile)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.Name != "qbridge" {
		t.Fatalf("unexpected name: %q", cfg.Bridge.Name)
	}
}

func TestLoadOverridesAndResolvesPaths(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "qbridge.toml")
	body := `
[bridge]
name = "lab"
addr = "127.0.0.1:9001"
peers = ["10.0.0.2:8765"]
status_interval = "2s"
history_dsn = "file:hist.db?cache=shared"
unknown_key = true

[supervisor]
pid_file = "run/qbridge.pid"
stop_timeout = "1500ms"

[firewall]
backend = "ufw"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.Name != "lab" || cfg.Bridge.Addr != "127.0.0.1:9001" {
		t.Fatalf("unexpected bridge: %+v", cfg.Bridge)
	}
	if cfg.Bridge.StatusInterval.Duration != 2*time.Second {
		t.Fatalf("unexpected interval: %v", cfg.Bridge.StatusInterval)
	}
	if cfg.Bridge.HeartbeatInterval.Duration != 30*time.Second {
		t.Fatalf("default heartbeat lost: %v", cfg.Bridge.HeartbeatInterval)
	}
	if len(cfg.Bridge.Peers) != 1 || cfg.Bridge.Peers[0] != "10.0.0.2:8765" {
		t.Fatalf("unexpected peers: %+v", cfg.Bridge.Peers)
	}
	if cfg.Supervisor.PIDFile != filepath.Join(dir, "run", "qbridge.pid") {
		t.Fatalf("pid file not anchored: %q", cfg.Supervisor.PIDFile)
	}
	if cfg.Bridge.StatusFile != filepath.Join(dir, "quantum_network_status.json") {
		t.Fatalf("status file not anchored: %q", cfg.Bridge.StatusFile)
	}
	if cfg.Bridge.HistoryDSN != "file:"+filepath.Join(dir, "hist.db")+"?cache=shared" {
		t.Fatalf("history dsn not anchored: %q", cfg.Bridge.HistoryDSN)
	}
	if cfg.Supervisor.StopTimeout.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected stop timeout: %v", cfg.Supervisor.StopTimeout)
	}
	if cfg.Firewall.Backend != "ufw" {
		t.Fatalf("unexpected backend: %q", cfg.Firewall.Backend)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[bridge]\nstatus_interval = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse failure")
	}
}

func TestValidateRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(*Config){
		"empty name":      func(c *Config) { c.Bridge.Name = " " },
		"bad addr":        func(c *Config) { c.Bridge.Addr = "8765" },
		"port range":      func(c *Config) { c.Bridge.Addr = ":70000" },
		"zero interval":   func(c *Config) { c.Bridge.StatusInterval = Duration{} },
		"bad peer":        func(c *Config) { c.Bridge.Peers = []string{"peer-without-port"} },
		"empty origin":    func(c *Config) { c.Bridge.CorsOrigins = []string{""} },
		"no binary":       func(c *Config) { c.Supervisor.Binary = "" },
		"unknown backend": func(c *Config) { c.Firewall.Backend = "iptables-legacy" },
		"ssh without key": func(c *Config) { c.SSH.Host = "edge"; c.SSH.User = "ops" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestWithPortKeepsHost(t *testing.T) {
	b := BridgeConfig{Addr: "127.0.0.1:8765"}
	if got := b.WithPort(9000); got != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %q", got)
	}
	b.Addr = ":8765"
	if got := b.WithPort(9000); got != ":9000" {
		t.Fatalf("unexpected addr: %q", got)
	}
}

func TestTemplateRoundTripsThroughLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{"[bridge]", "status_interval", "5s", "[supervisor]", "[firewall]"} {
		if !strings.Contains(text, want) {
			t.Fatalf("template missing %q:\n%s", want, text)
		}
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Bridge.Addr != Default().Bridge.Addr {
		t.Fatalf("unexpected addr: %q", cfg.Bridge.Addr)
	}
	if err := WriteTemplate(path, false); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got %v", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestRuntimeMappings(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	b := cfg.BridgeRuntime()
	if b.Name != "qbridge" || b.StatusInterval != 5*time.Second || b.Addr != ":8765" {
		t.Fatalf("unexpected bridge runtime: %+v", b)
	}

	s := cfg.SupervisorRuntime(path)
	if want := []string{"--config", path, "--addr", ":8765"}; strings.Join(s.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("child should receive config path and addr: %v", s.Args)
	}

	cfg.Bridge.Addr = "127.0.0.1:9100"
	if got := cfg.SupervisorRuntime(path).Args; strings.Join(got, " ") != "--config "+path+" --addr 127.0.0.1:9100" {
		t.Fatalf("addr override should reach the child: %v", got)
	}
	if got := cfg.SupervisorRuntime(filepath.Join(dir, "missing.toml")).Args; strings.Join(got, " ") != "--addr 127.0.0.1:9100" {
		t.Fatalf("child without config file should still get addr: %v", got)
	}
	custom := cfg
	custom.Supervisor.Args = []string{"--addr=:9200"}
	if got := custom.SupervisorRuntime(path).Args; len(got) != 1 || got[0] != "--addr=:9200" {
		t.Fatalf("configured --addr should be kept: %v", got)
	}
	cfg.Bridge.Addr = ":8765"
	if s.Addr != ":8765" || s.PIDFile != filepath.Join(dir, "qbridge.pid") {
		t.Fatalf("unexpected supervisor runtime: %+v", s)
	}

	target := cfg.ProbeTarget()
	if target.Host != "127.0.0.1" || target.Port != DefaultPort || target.Timeout != 3*time.Second {
		t.Fatalf("unexpected probe target: %+v", target)
	}

	if cfg.Remote() {
		t.Fatalf("default config should be local")
	}
	cfg.SSH.Host = "edge.lan"
	if !cfg.Remote() || cfg.TargetOS() != "linux" {
		t.Fatalf("ssh host should switch to remote linux")
	}
	cfg.Firewall.Executable = "/opt/qbridge/bin/qbridge"
	if got := cfg.FirewallExecutable(); got != "/opt/qbridge/bin/qbridge" {
		t.Fatalf("unexpected executable: %q", got)
	}
}

func TestValidateRejectsSchemelessOrigin(t *testing.T) {
	cfg := Default()
	cfg.Bridge.CorsOrigins = []string{"localhost:3000"}
	if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg.Bridge.CorsOrigins = []string{"*"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("wildcard should be allowed: %v", err)
	}
}
