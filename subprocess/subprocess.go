// Package subprocess runs external tools (gpg, gpg-preset-passphrase,
// rpm, bzip2, ...) inside a transaction's scratch directory, never
// through a shell, capturing stdout/stderr and applying an explicit
// exit-code policy.
package subprocess

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/repoup/repoup/repoerr"
)

// Runner executes commands with a fixed working directory.
type Runner struct {
	// Dir is the working directory every command runs in.
	Dir string
}

// New returns a Runner rooted at dir.
func New(dir string) *Runner {
	return &Runner{Dir: dir}
}

// Options controls how Run executes a command.
type Options struct {
	// Input is written to the command's stdin, if non-nil.
	Input *string
	// Check, when true (the default), turns a non-zero exit into a
	// *repoerr.SubprocessError.
	Check bool
}

// DefaultOptions checks the exit code.
func DefaultOptions() Options { return Options{Check: true} }

// Run executes argv[0] with argv[1:] as arguments, returning stdout.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Input != nil {
		cmd.Stdin = bytes.NewBufferString(*opts.Input)
	}

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// Includes "binary not found": exec.ErrNotFound for a name looked
		// up on PATH, an os.ErrNotExist-wrapping error for a missing path.
		return stdout.Bytes(), err
	}
	if !opts.Check {
		return stdout.Bytes(), nil
	}
	return stdout.Bytes(), &repoerr.SubprocessError{
		Argv:     argv,
		ExitCode: exitErr.ExitCode(),
		Stderr:   stderr.String(),
	}
}
