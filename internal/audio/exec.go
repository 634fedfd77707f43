package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"podpipe/internal/logger"
)

// Runner executes external tools such as ffmpeg and ffprobe
type Runner interface {
	RunWithOutput(ctx context.Context, cmd string, args []string) ([]byte, error)
}

// ExecRunner implements Runner using os/exec
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner creates a runner that logs every invocation at debug level
func NewExecRunner() *ExecRunner {
	return &ExecRunner{log: logger.Get()}
}

// RunWithOutput executes a command and returns its stdout. Stderr is folded
// into the error so ffmpeg diagnostics are not lost.
func (r *ExecRunner) RunWithOutput(ctx context.Context, cmd string, args []string) ([]byte, error) {
	r.log.Debug("executing command", "cmd", cmd, "args", strings.Join(args, " "))

	c := exec.CommandContext(ctx, cmd, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", cmd, err, tail(stderr.String(), 500))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
