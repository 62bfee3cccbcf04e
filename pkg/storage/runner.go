package storage

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/meridianvfx/avf/pkg/storage/status"
)

// CommandRunner abstracts the external tool a process-wrapping
// backend shells out to (git, p4). Kept as an interface so backend
// tests can script the tool instead of requiring it on the host.
type CommandRunner interface {
	// Run executes the tool with the given arguments and returns
	// its combined output.
	Run(ctx context.Context, args ...string) (string, error)

	// RunInput is Run with data piped to the tool's stdin.
	RunInput(ctx context.Context, stdin string, args ...string) (string, error)
}

// NewExecRunner returns a CommandRunner executing binary with the
// fixed prefix arguments prepended to every call, in dir when dir is
// not empty.
func NewExecRunner(binary, dir string, prefix ...string) CommandRunner {
	return &execRunner{binary: binary, dir: dir, prefix: prefix}
}

type execRunner struct {
	binary string
	dir    string
	prefix []string
}

func (r *execRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.RunInput(ctx, "", args...)
}

func (r *execRunner) RunInput(ctx context.Context, stdin string, args ...string) (string, error) {
	full := make([]string, 0, len(r.prefix)+len(args))
	full = append(full, r.prefix...)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, r.binary, full...)
	if r.dir != "" {
		cmd.Dir = r.dir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), status.ErrBackendFailure.Wrap(
			fmt.Errorf("%s %s: %v: %s", r.binary, strings.Join(full, " "), err, strings.TrimSpace(string(out))))
	}
	return string(out), nil
}
