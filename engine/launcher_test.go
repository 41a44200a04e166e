package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/internal/testutil/testlog"
)

func TestLocalLauncherRequiresBinary(t *testing.T) {
	testlog.Start(t)
	_, err := LocalLauncher{}.Launch(context.Background(), nil)
	if !errors.Is(err, ErrMissingBinary) {
		t.Fatalf("expected ErrMissingBinary, got %v", err)
	}
}

func TestLocalLauncherObservesCleanExit(t *testing.T) {
	testlog.Start(t)
	hooked := false
	l := LocalLauncher{
		BinaryPath: "/bin/true",
		StartHook:  func() { hooked = true },
		Logger:     zerolog.Nop(),
	}
	handle, err := l.Launch(context.Background(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !hooked {
		t.Fatal("start hook did not run")
	}
	select {
	case status := <-handle.Exited():
		if !status.Ok {
			t.Fatalf("expected clean exit, got %s", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestLocalLauncherObservesFailureExit(t *testing.T) {
	testlog.Start(t)
	l := LocalLauncher{BinaryPath: "/bin/false", Logger: zerolog.Nop()}
	handle, err := l.Launch(context.Background(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	select {
	case status := <-handle.Exited():
		if status.Ok {
			t.Fatal("expected failure exit")
		}
		if status.Code != 1 {
			t.Fatalf("expected exit code 1, got %d", status.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestLocalLauncherKill(t *testing.T) {
	testlog.Start(t)
	l := LocalLauncher{BinaryPath: "/bin/sleep", Logger: zerolog.Nop()}
	handle, err := l.Launch(context.Background(), []string{"60"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	handle.Kill()
	select {
	case status := <-handle.Exited():
		if status.Ok {
			t.Fatal("killed process should not report a clean exit")
		}
		if status.Signal == "" {
			t.Fatalf("expected a signal, got %s", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}
