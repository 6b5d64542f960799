// Package proc wraps external tool invocation. All commands run
// synchronously, one at a time; the only concurrency is the goroutine that
// relays a child's stdout while the caller drains its stderr, which avoids a
// pipe deadlock when both streams are captured.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external tool invocation. Env entries are overrides
// applied on top of the parent environment for this invocation only; the
// ambient process environment is never mutated.
type Command struct {
	Name string
	Args []string
	Env  map[string]string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// ExitError reports a child process that exited non-zero, carrying the
// failing command line and exit code.
type ExitError struct {
	Cmd  string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.Code)
}

// Runner abstracts subprocess execution so pipelines can be tested without
// spawning real tools.
type Runner interface {
	// Run executes cmd with its output attached to the given writers.
	Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) error

	// RunFiltered executes cmd, relaying stdout unmodified on a helper
	// goroutine while the calling goroutine drops stderr lines containing any
	// of the drop substrings. Surviving stderr lines keep their original
	// relative order.
	RunFiltered(ctx context.Context, cmd Command, stdout, stderr io.Writer, drop []string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) build(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for key, value := range cmd.Env {
			c.Env = append(c.Env, key+"="+value)
		}
	}
	return c
}

func (r ExecRunner) Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) error {
	c := r.build(ctx, cmd)
	c.Stdout = stdout
	c.Stderr = stderr

	if err := c.Run(); err != nil {
		return wrapExitError(cmd, err)
	}
	return nil
}

func (r ExecRunner) RunFiltered(ctx context.Context, cmd Command, stdout, stderr io.Writer, drop []string) error {
	c := r.build(ctx, cmd)

	outPipe, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe for %q: %w", cmd.String(), err)
	}
	errPipe, err := c.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe for %q: %w", cmd.String(), err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("error starting %q: %w", cmd.String(), err)
	}

	// Each goroutine owns exactly one stream, so no locking is needed. The
	// relay must be running before we drain stderr or the child can block on
	// a full stdout buffer.
	done := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(stdout, outPipe)
		done <- copyErr
	}()

	filterErr := CopyFiltered(stderr, errPipe, drop)
	relayErr := <-done

	if err := c.Wait(); err != nil {
		return wrapExitError(cmd, err)
	}
	if filterErr != nil {
		return filterErr
	}
	return relayErr
}

func wrapExitError(cmd Command, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Cmd: cmd.String(), Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("error running %q: %w", cmd.String(), err)
}

// CopyFiltered copies src to dst line by line, dropping lines that contain
// any of the drop substrings. All other lines pass through unchanged and in
// order.
func CopyFiltered(dst io.Writer, src io.Reader, drop []string) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if containsAny(line, drop) {
			continue
		}
		if _, err := fmt.Fprintln(dst, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func containsAny(line string, substrings []string) bool {
	for _, substring := range substrings {
		if strings.Contains(line, substring) {
			return true
		}
	}
	return false
}
