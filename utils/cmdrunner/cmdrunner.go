package cmdrunner

import (
	"os/exec"
)

// Use a singleton instance because every controller that shells out wants
// access, and threading a runner through each constructor would add plumbing
// for no gain.
var commandRunner CommandRunner

// CommandRunner is an interface for executing external commands. It gives the
// option to change the way commands are run process-wide, which the tests use
// to substitute recorded outputs for real tool invocations.
type CommandRunner interface {
	Command(string, ...string) *exec.Cmd
	CombinedOutput(string, ...string) ([]byte, error)
}

// Command calls Command on the configured runner, or the default
// implementation in the exec package if no runner is configured.
func Command(cmd string, args ...string) *exec.Cmd {
	if commandRunner == nil {
		return exec.Command(cmd, args...)
	}
	return commandRunner.Command(cmd, args...)
}

// CombinedOutput calls CombinedOutput on the configured runner, or the
// default implementation in the exec package if no runner is configured.
func CombinedOutput(command string, args ...string) ([]byte, error) {
	if commandRunner == nil {
		return exec.Command(command, args...).CombinedOutput()
	}
	return commandRunner.CombinedOutput(command, args...)
}

// SetRunner replaces the process-wide command runner.
func SetRunner(runner CommandRunner) {
	commandRunner = runner
}

// ResetRunner restores the default runner for more reliable unit testing.
func ResetRunner() {
	commandRunner = nil
}
