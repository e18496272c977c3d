package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	logs "github.com/danmuck/qbridge/internal/logging"
)

const (
	DefaultPort       = 8765
	DefaultConfigFile = "qbridge.toml"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrConfigExists  = errors.New("config: file already exists")
)

var FirewallBackends = []string{"auto", "none", "ufw", "firewalld", "socketfilterfw", "netsh"}

// Duration is a time.Duration that reads and writes TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Bridge     BridgeConfig     `toml:"bridge"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Firewall   FirewallConfig   `toml:"firewall"`
	Probe      ProbeConfig      `toml:"probe"`
	SSH        SSHConfig        `toml:"ssh"`
}

type BridgeConfig struct {
	Name              string   `toml:"name"`
	Addr              string   `toml:"addr"`
	CorsOrigins       []string `toml:"cors_origins"`
	APIToken          string   `toml:"api_token"`
	Preset            bool     `toml:"preset"`
	EntangleOnBoot    bool     `toml:"entangle_on_boot"`
	Peers             []string `toml:"peers"`
	StatusFile        string   `toml:"status_file"`
	StatusInterval    Duration `toml:"status_interval"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
	HistoryDSN        string   `toml:"history_dsn"`
	MaxHistory        int      `toml:"max_history"`
}

type SupervisorConfig struct {
	Binary       string   `toml:"binary"`
	Args         []string `toml:"args"`
	PIDFile      string   `toml:"pid_file"`
	LogFile      string   `toml:"log_file"`
	WorkDir      string   `toml:"work_dir"`
	StopTimeout  Duration `toml:"stop_timeout"`
	ReadyTimeout Duration `toml:"ready_timeout"`
}

type FirewallConfig struct {
	Backend    string `toml:"backend"`
	RuleName   string `toml:"rule_name"`
	Executable string `toml:"executable"`
}

type ProbeConfig struct {
	Host    string   `toml:"host"`
	Timeout Duration `toml:"timeout"`
}

type SSHConfig struct {
	Host       string   `toml:"host"`
	Port       string   `toml:"port"`
	User       string   `toml:"user"`
	KeyPath    string   `toml:"key_path"`
	KnownHosts string   `toml:"known_hosts"`
	Insecure   bool     `toml:"insecure_skip_host_key_check"`
	Timeout    Duration `toml:"timeout"`
}

func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			Name:              "qbridge",
			Addr:              ":" + strconv.Itoa(DefaultPort),
			CorsOrigins:       []string{"http://localhost:3000"},
			Preset:            true,
			EntangleOnBoot:    true,
			Peers:             []string{},
			StatusFile:        "quantum_network_status.json",
			StatusInterval:    Duration{5 * time.Second},
			HeartbeatInterval: Duration{30 * time.Second},
			ShutdownTimeout:   Duration{5 * time.Second},
			HistoryDSN:        "file:qbridge_history.db",
			MaxHistory:        1024,
		},
		Supervisor: SupervisorConfig{
			Binary:       "qbridge",
			Args:         []string{},
			PIDFile:      "qbridge.pid",
			LogFile:      "qbridge.log",
			StopTimeout:  Duration{5 * time.Second},
			ReadyTimeout: Duration{10 * time.Second},
		},
		Firewall: FirewallConfig{
			Backend:  "auto",
			RuleName: "qbridge",
		},
		Probe: ProbeConfig{
			Host:    "127.0.0.1",
			Timeout: Duration{3 * time.Second},
		},
		SSH: SSHConfig{
			Timeout: Duration{10 * time.Second},
		},
	}
}

// Load decodes path over Default and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, Validate(cfg)
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		logs.Warnf("config.Load unknown key=%q path=%s", key.String(), path)
	}
	cfg.resolvePaths(filepath.Dir(path))
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolvePaths anchors relative file paths at the config file's directory.
func (c *Config) resolvePaths(dir string) {
	if dir == "" || dir == "." {
		return
	}
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Bridge.StatusFile = anchor(c.Bridge.StatusFile)
	c.Supervisor.PIDFile = anchor(c.Supervisor.PIDFile)
	c.Supervisor.LogFile = anchor(c.Supervisor.LogFile)
	if strings.HasPrefix(c.Bridge.HistoryDSN, "file:") {
		rest := strings.TrimPrefix(c.Bridge.HistoryDSN, "file:")
		path, query, _ := strings.Cut(rest, "?")
		if path != "" && !filepath.IsAbs(path) && path != ":memory:" {
			c.Bridge.HistoryDSN = "file:" + filepath.Join(dir, path)
			if query != "" {
				c.Bridge.HistoryDSN += "?" + query
			}
		}
	}
}

func Validate(cfg Config) error {
	b := cfg.Bridge
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: bridge.name is required", ErrInvalidConfig)
	}
	if _, err := b.Port(); err != nil {
		return err
	}
	if b.StatusInterval.Duration <= 0 {
		return fmt.Errorf("%w: bridge.status_interval must be positive", ErrInvalidConfig)
	}
	if b.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("%w: bridge.heartbeat_interval must be positive", ErrInvalidConfig)
	}
	if b.ShutdownTimeout.Duration <= 0 {
		return fmt.Errorf("%w: bridge.shutdown_timeout must be positive", ErrInvalidConfig)
	}
	if b.MaxHistory < 0 {
		return fmt.Errorf("%w: bridge.max_history must not be negative", ErrInvalidConfig)
	}
	for i, origin := range b.CorsOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: bridge.cors_origins[%d]=%q must be \"*\" or an http(s) origin", ErrInvalidConfig, i, origin)
		}
	}
	for i, peer := range b.Peers {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(peer)); err != nil {
			return fmt.Errorf("%w: bridge.peers[%d]=%q must be host:port", ErrInvalidConfig, i, peer)
		}
	}

	s := cfg.Supervisor
	if strings.TrimSpace(s.Binary) == "" {
		return fmt.Errorf("%w: supervisor.binary is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(s.PIDFile) == "" {
		return fmt.Errorf("%w: supervisor.pid_file is required", ErrInvalidConfig)
	}
	if s.StopTimeout.Duration <= 0 || s.ReadyTimeout.Duration <= 0 {
		return fmt.Errorf("%w: supervisor timeouts must be positive", ErrInvalidConfig)
	}

	if !validBackend(cfg.Firewall.Backend) {
		return fmt.Errorf("%w: firewall.backend=%q must be one of %s", ErrInvalidConfig, cfg.Firewall.Backend, strings.Join(FirewallBackends, ", "))
	}
	if strings.TrimSpace(cfg.Firewall.RuleName) == "" {
		return fmt.Errorf("%w: firewall.rule_name is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Probe.Host) == "" || cfg.Probe.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: probe.host and probe.timeout are required", ErrInvalidConfig)
	}
	if cfg.SSH.Host != "" && (cfg.SSH.User == "" || cfg.SSH.KeyPath == "") {
		return fmt.Errorf("%w: ssh.user and ssh.key_path are required when ssh.host is set", ErrInvalidConfig)
	}
	return nil
}

// Port extracts the listen port from Addr.
func (b BridgeConfig) Port() (int, error) {
	_, portRaw, err := net.SplitHostPort(strings.TrimSpace(b.Addr))
	if err != nil {
		return 0, fmt.Errorf("%w: bridge.addr=%q: %v", ErrInvalidConfig, b.Addr, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: bridge.addr=%q has invalid port", ErrInvalidConfig, b.Addr)
	}
	return port, nil
}

// WithPort returns Addr with its port replaced, keeping the host.
func (b BridgeConfig) WithPort(port int) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(b.Addr))
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func validBackend(name string) bool {
	for _, b := range FirewallBackends {
		if name == b {
			return true
		}
	}
	return false
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
