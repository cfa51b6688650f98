package media

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
)

// CommandResult is the captured output of one subprocess
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so yt-dlp and ffmpeg can be faked in tests
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec. The process is killed when ctx
// is done.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and exit code
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// isNotInstalled reports whether a run failed because the binary itself is
// missing rather than because it exited with an error.
func isNotInstalled(err error, res CommandResult, tool string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	// Shell wrappers report a missing binary as exit 127.
	if res.ExitCode == 127 {
		return true
	}
	out := strings.ToLower(res.Stderr)
	return strings.Contains(out, tool+" not found") ||
		strings.Contains(out, tool+": not found") ||
		strings.Contains(out, "'"+tool+"' is not recognized")
}

// tail returns the last non-empty line of subprocess output for error messages
func tail(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
