// Package firewall opens and closes the bridge port on the host firewall.
//
// Each backend translates a Rule into the host tool's command lines and runs
// them through a tools.CommandRunner, so the same adapter works locally and
// over SSH.
package firewall

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/tools"
)

const (
	BackendUFW            = "ufw"
	BackendFirewalld      = "firewalld"
	BackendSocketFilterFW = "socketfilterfw"
	BackendNetsh          = "netsh"

	SocketFilterFWPath = "/usr/libexec/ApplicationFirewall/socketfilterfw"
)

var (
	ErrNoBackend      = errors.New("firewall: no supported backend found")
	ErrUnknownBackend = errors.New("firewall: unknown backend")
	ErrInvalidRule    = errors.New("firewall: invalid rule")
	ErrCommandFailed  = errors.New("firewall: command failed")
)

// Rule describes what to open: a TCP port, a program, or both depending on
// what the backend filters on.
type Rule struct {
	Name       string
	Port       int
	Executable string
}

type Result struct {
	Backend  string
	Status   string
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

type Adapter interface {
	Name() string
	Allow(rule Rule) (Result, error)
	Revoke(rule Rule) (Result, error)
	Status(rule Rule) (Result, error)
}

type action string

const (
	actionAllow  action = "allow"
	actionRevoke action = "revoke"
	actionStatus action = "status"
)

type command struct {
	name string
	args []string
}

type planner func(act action, rule Rule) ([]command, error)

// Backend runs one firewall tool's command plan.
type Backend struct {
	name   string
	runner tools.CommandRunner
	plan   planner
}

// New builds the named backend on runner. "auto" defers to Detect.
func New(name string, runner tools.CommandRunner, goos string) (Adapter, error) {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	switch strings.TrimSpace(name) {
	case "", "auto":
		return Detect(runner, goos)
	case BackendUFW:
		return Backend{name: BackendUFW, runner: runner, plan: planUFW}, nil
	case BackendFirewalld:
		return Backend{name: BackendFirewalld, runner: runner, plan: planFirewalld}, nil
	case BackendSocketFilterFW:
		return Backend{name: BackendSocketFilterFW, runner: runner, plan: planSocketFilterFW}, nil
	case BackendNetsh:
		return Backend{name: BackendNetsh, runner: runner, plan: planNetsh}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Detect picks a backend by operating system and tool availability.
func Detect(runner tools.CommandRunner, goos string) (Adapter, error) {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	var candidates []string
	switch goos {
	case "darwin":
		candidates = []string{BackendSocketFilterFW}
	case "windows":
		candidates = []string{BackendNetsh}
	default:
		candidates = []string{BackendUFW, BackendFirewalld}
	}
	for _, name := range candidates {
		if !tools.Available(runner, toolBinary(name)) {
			logs.Debugf("firewall.Detect skip backend=%s goos=%s", name, goos)
			continue
		}
		logs.Infof("firewall.Detect backend=%s goos=%s", name, goos)
		return New(name, runner, goos)
	}
	logs.Warnf("firewall.Detect none goos=%s tried=%v", goos, candidates)
	return nil, fmt.Errorf("%w (goos=%s tried=%s)", ErrNoBackend, goos, strings.Join(candidates, ","))
}

func toolBinary(backend string) string {
	switch backend {
	case BackendFirewalld:
		return "firewall-cmd"
	case BackendSocketFilterFW:
		return SocketFilterFWPath
	default:
		return backend
	}
}

func (b Backend) Name() string { return b.name }

func (b Backend) Allow(rule Rule) (Result, error)  { return b.execute(actionAllow, rule) }
func (b Backend) Revoke(rule Rule) (Result, error) { return b.execute(actionRevoke, rule) }
func (b Backend) Status(rule Rule) (Result, error) { return b.execute(actionStatus, rule) }

func (b Backend) execute(act action, rule Rule) (Result, error) {
	cmds, err := b.plan(act, rule)
	if err != nil {
		logs.Warnf("firewall.Backend.execute rejected backend=%s action=%s err=%v", b.name, act, err)
		return Result{
			Backend:  b.name,
			Status:   "error",
			Stderr:   []byte(err.Error() + "\n"),
			ExitCode: 64,
		}, err
	}

	out := Result{Backend: b.name, Status: "ok"}
	for _, cmd := range cmds {
		res, err := b.exec(cmd)
		out.Stdout = append(out.Stdout, res.Stdout...)
		out.Stderr = append(out.Stderr, res.Stderr...)
		out.ExitCode = res.ExitCode
		if err != nil {
			out.Status = res.Status
			return out, err
		}
	}
	logs.Infof("firewall.Backend.execute ok backend=%s action=%s rule=%q", b.name, act, rule.Name)
	return out, nil
}

// exec runs one command and normalizes its stdout, stderr and exit state.
func (b Backend) exec(cmd command) (Result, error) {
	stdout, stderr, exitCode, err := b.runner.Run(cmd.name, cmd.args...)
	if err != nil {
		logs.Errf("firewall.Backend.exec command failed cmd=%s args=%v exit=%d err=%v", cmd.name, cmd.args, exitCode, err)
		if len(stderr) == 0 {
			stderr = []byte(err.Error() + "\n")
		}
		if exitCode == 0 {
			exitCode = 1
		}
		return Result{
			Backend:  b.name,
			Status:   "error",
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: exitCode,
		}, fmt.Errorf("%w: %s %s: %v", ErrCommandFailed, cmd.name, strings.Join(cmd.args, " "), err)
	}
	logs.Debugf("firewall.Backend.exec ok cmd=%s args=%v", cmd.name, cmd.args)
	return Result{
		Backend: b.name,
		Status:  "ok",
		Stdout:  stdout,
		Stderr:  stderr,
	}, nil
}

func requirePort(rule Rule) (string, error) {
	if rule.Port < 1 || rule.Port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidRule, rule.Port)
	}
	return strconv.Itoa(rule.Port) + "/tcp", nil
}

func requireExecutable(rule Rule) (string, error) {
	exe := strings.TrimSpace(rule.Executable)
	if exe == "" {
		return "", fmt.Errorf("%w: executable is required", ErrInvalidRule)
	}
	return exe, nil
}

func planUFW(act action, rule Rule) ([]command, error) {
	if act == actionStatus {
		return []command{{name: "ufw", args: []string{"status"}}}, nil
	}
	spec, err := requirePort(rule)
	if err != nil {
		return nil, err
	}
	if act == actionAllow {
		return []command{{name: "ufw", args: []string{"allow", spec}}}, nil
	}
	return []command{{name: "ufw", args: []string{"delete", "allow", spec}}}, nil
}

func planFirewalld(act action, rule Rule) ([]command, error) {
	if act == actionStatus {
		return []command{{name: "firewall-cmd", args: []string{"--list-ports"}}}, nil
	}
	spec, err := requirePort(rule)
	if err != nil {
		return nil, err
	}
	flag := "--add-port="
	if act == actionRevoke {
		flag = "--remove-port="
	}
	return []command{
		{name: "firewall-cmd", args: []string{"--permanent", flag + spec}},
		{name: "firewall-cmd", args: []string{"--reload"}},
	}, nil
}

func planSocketFilterFW(act action, rule Rule) ([]command, error) {
	exe, err := requireExecutable(rule)
	if err != nil {
		return nil, err
	}
	switch act {
	case actionAllow:
		return []command{
			{name: SocketFilterFWPath, args: []string{"--add", exe}},
			{name: SocketFilterFWPath, args: []string{"--unblockapp", exe}},
		}, nil
	case actionRevoke:
		return []command{{name: SocketFilterFWPath, args: []string{"--remove", exe}}}, nil
	default:
		return []command{{name: SocketFilterFWPath, args: []string{"--getappblocked", exe}}}, nil
	}
}

func planNetsh(act action, rule Rule) ([]command, error) {
	name := strings.TrimSpace(rule.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", ErrInvalidRule)
	}
	base := []string{"advfirewall", "firewall"}
	switch act {
	case actionAllow:
		exe, err := requireExecutable(rule)
		if err != nil {
			return nil, err
		}
		args := append(base, "add", "rule", "name="+name, "dir=in", "action=allow", "program="+exe, "enable=yes")
		return []command{{name: "netsh", args: args}}, nil
	case actionRevoke:
		return []command{{name: "netsh", args: append(base, "delete", "rule", "name="+name)}}, nil
	default:
		return []command{{name: "netsh", args: append(base, "show", "rule", "name="+name)}}, nil
	}
}
