package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/channel"
	"github.com/danmuck/mediactl/internal/observability"
)

var ErrMissingBinary = errors.New("engine: binary path is required")

// Handle is one running engine instance as seen by the control plane: a
// channel transport, an exit signal that fires exactly once, and a kill
// switch. The process itself is owned by the launcher.
type Handle struct {
	transport channel.Transport
	exited    chan ExitStatus
	kill      func()
}

func NewHandle(transport channel.Transport, exited chan ExitStatus, kill func()) *Handle {
	return &Handle{transport: transport, exited: exited, kill: kill}
}

func (h *Handle) Transport() channel.Transport {
	return h.transport
}

// Exited resolves exactly once with the engine's ExitStatus, whether the
// termination was requested or not.
func (h *Handle) Exited() <-chan ExitStatus {
	return h.exited
}

func (h *Handle) Kill() {
	if h.kill != nil {
		h.kill()
	}
}

// Launcher starts the engine with the given invocation arguments. It is the
// seam that lets tests and remote deployments substitute the process model.
type Launcher interface {
	Launch(ctx context.Context, args []string) (*Handle, error)
}

// LocalLauncher runs the engine as a child process with the channel over its
// stdio and stderr folded into the logger.
type LocalLauncher struct {
	BinaryPath string
	Env        []string
	// StartHook runs on the spawn path just before the engine starts, e.g.
	// for pinning or priority tweaks.
	StartHook func()
	Logger    zerolog.Logger
}

func (l LocalLauncher) Launch(ctx context.Context, args []string) (*Handle, error) {
	if strings.TrimSpace(l.BinaryPath) == "" {
		return nil, ErrMissingBinary
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.BinaryPath, args...)
	if len(l.Env) > 0 {
		cmd.Env = l.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stderr pipe: %w", err)
	}

	if l.StartHook != nil {
		l.StartHook()
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %s: %w", l.BinaryPath, err)
	}
	observability.RecordEngineSpawn()
	l.Logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("engine spawned")

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			l.Logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
		}
	}()

	exited := make(chan ExitStatus, 1)
	go func() {
		status := exitStatusFromWait(cmd.Wait())
		observability.RecordEngineExit(status.Outcome())
		exited <- status
	}()

	transport := channel.NewStreamTransport(stdout, stdin, stdin)
	kill := func() {
		_ = cmd.Process.Kill()
	}
	return NewHandle(transport, exited, kill), nil
}
