package tools

import (
	"bytes"
	"errors"
	"os/exec"
)

// ExitNotFound is reported when the command binary cannot be resolved.
const ExitNotFound int32 = 127

// CommandRunner abstracts command execution for host adapters.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = ExitNotFound
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// Available reports whether name resolves on the runner's host.
// The lookup goes through `command -v` so it works for SSH runners too.
func Available(r CommandRunner, name string) bool {
	if _, ok := r.(ExecRunner); ok {
		_, err := exec.LookPath(name)
		return err == nil
	}
	_, _, code, err := r.Run("sh", "-c", "command -v "+ShellEscape(name))
	return err == nil && code == 0
}
