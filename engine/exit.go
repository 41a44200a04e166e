package engine

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitStatus is the terminal outcome of one engine process, produced exactly
// once by its launcher.
type ExitStatus struct {
	Ok     bool
	Code   int
	Signal string
	Err    error
}

func (s ExitStatus) String() string {
	switch {
	case s.Ok:
		return "exit status 0"
	case s.Signal != "":
		return fmt.Sprintf("terminated by signal %s", s.Signal)
	case s.Err != nil && s.Code == 0:
		return fmt.Sprintf("exit error: %v", s.Err)
	default:
		return fmt.Sprintf("exit status %d", s.Code)
	}
}

// Outcome is the metrics label for this exit.
func (s ExitStatus) Outcome() string {
	switch {
	case s.Ok:
		return "clean"
	case s.Signal != "":
		return "signal"
	default:
		return "error"
	}
}

// exitStatusFromWait classifies the error returned by waiting on the process.
func exitStatusFromWait(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Ok: true}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := ExitStatus{Code: exitErr.ExitCode(), Err: err}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
		return status
	}
	return ExitStatus{Code: -1, Err: err}
}
