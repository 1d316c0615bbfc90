// Package resmoke proxies the external resmoke and burn-in tooling the
// generator queries for suite information.
package resmoke

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SubprocessError is returned when an external command exits non-zero.
type SubprocessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("command '%s' failed with exit code %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// runCommand executes the given command line and returns its standard output.
func runCommand(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, &SubprocessError{
			Command:  strings.Join(args, " "),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}
	return output, nil
}
