package editor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/darkroom/internal/shared"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with [os/exec].
type ExecRunner struct {
	logger *log.Logger
}

// NewExecRunner creates an [ExecRunner]. A nil logger discards debug output.
func NewExecRunner(logger *log.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes name with args. A non-zero exit is reported as [ErrToolFailed] carrying stderr.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.logger != nil {
		r.logger.Debug("exec", "cmd", name, "args", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.Bytes(), fmt.Errorf("%w: %s: %s", ErrToolFailed, name, shared.Truncate(msg, 1000))
	}
	return stdout.Bytes(), nil
}
