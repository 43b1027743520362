package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
)

// CommandError is the structured failure of an external command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil && e.ExitCode <= 0 {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandOptions tune a command provider.
type CommandOptions struct {
	// Timeout kills the process when it runs longer. Zero relies on the caller's ctx only.
	Timeout time.Duration
	// KeepWhitespace disables trimming of trailing whitespace from stdout.
	KeepWhitespace bool
	Logger         *logrus.Logger
}

// Command runs argv on every read and returns its stdout. The process is killed when
// ctx ends or the timeout elapses.
func Command(argv []string, opts CommandOptions) (gatt.ValueProvider, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("command provider: empty command")
	}
	args := append([]string(nil), argv...)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	display := strings.Join(args, " ")

	return func(ctx context.Context) ([]byte, error) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		logger.WithFields(logrus.Fields{
			"command":  display,
			"duration": time.Since(start),
		}).Debug("Value command finished")

		if err != nil {
			cerr := &CommandError{Command: display, Stderr: strings.TrimSpace(stderr.String()), Err: err}
			if ctx.Err() != nil {
				cerr.Err = ctx.Err()
			} else if exitErr, ok := err.(*exec.ExitError); ok {
				cerr.ExitCode = exitErr.ExitCode()
			}
			return nil, cerr
		}

		out := stdout.Bytes()
		if !opts.KeepWhitespace {
			out = bytes.TrimRight(out, " \t\r\n")
		}
		return out, nil
	}, nil
}
