package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/channel"
	"github.com/danmuck/mediactl/engine"
	"github.com/danmuck/mediactl/internal/logging"
)

const (
	methodWorkerClose          = "worker.close"
	methodWorkerDump           = "worker.dump"
	methodWorkerUpdateSettings = "worker.updateSettings"
	methodCreateRouter         = "worker.createRouter"
	methodCreateWebRtcServer   = "worker.createWebRtcServer"
	methodCloseRouter          = "worker.closeRouter"
	methodCloseWebRtcServer    = "worker.closeWebRtcServer"

	readinessEvent = "running"

	closeRequestTimeout = 5 * time.Second
)

var ErrEngineExitedEarly = errors.New("worker: engine exited before readiness")

// ExitStatus is the engine exit outcome delivered to dead listeners.
type ExitStatus = engine.ExitStatus

// Settings configures a Worker. The embedded engine settings serialize into
// the engine's invocation arguments; the rest stays on this side.
type Settings struct {
	engine.Settings

	// BinaryPath locates the engine executable for the default local
	// launcher. Ignored when Launcher is set.
	BinaryPath string

	// Launcher overrides how the engine is started (remote host, test
	// double). Nil means a LocalLauncher on BinaryPath.
	Launcher engine.Launcher

	// StartHook runs on the spawn path before the engine enters its run
	// loop.
	StartHook func()

	// AppData is an opaque caller payload carried on the handle.
	AppData any
}

func DefaultSettings() Settings {
	return Settings{Settings: engine.DefaultSettings()}
}

type handlers struct {
	newRouter       bag[*Router]
	newWebRtcServer bag[*WebRtcServer]
	dead            bagOnce[engine.ExitStatus]
	close           bagOnce[struct{}]
}

// Worker is the public facade over one supervised engine instance.
type Worker struct {
	id       WorkerID
	settings Settings
	channel  *channel.Channel
	handle   *engine.Handle
	logger   zerolog.Logger
	appData  any

	closed   atomic.Bool
	handlers handlers

	// Live sub-entity ids, kept for teardown diagnostics.
	entMu       sync.Mutex
	liveRouters map[RouterID]struct{}
	liveServers map[WebRtcServerID]struct{}
}

// New spawns the engine and blocks until it reports readiness or exits. The
// context bounds creation only; it does not own the returned Worker.
func New(ctx context.Context, settings Settings) (*Worker, error) {
	if err := settings.Settings.Validate(); err != nil {
		return nil, err
	}

	id := NewWorkerID()
	logger := logging.Component("worker").With().Str("worker_id", id.String()).Logger()

	launcher := settings.Launcher
	if launcher == nil {
		launcher = engine.LocalLauncher{
			BinaryPath: settings.BinaryPath,
			StartHook:  settings.StartHook,
			Logger:     logger,
		}
	}

	args := engine.Args(settings.Settings)
	logger.Debug().Strs("args", args).Msg("spawning engine")
	handle, err := launcher.Launch(ctx, args)
	if err != nil {
		return nil, err
	}

	ch := channel.New(handle.Transport(), logger)
	w := &Worker{
		id:       id,
		settings: settings,
		channel:  ch,
		handle:   handle,
		logger:   logger,
		appData:  settings.AppData,

		liveRouters: make(map[RouterID]struct{}),
		liveServers: make(map[WebRtcServerID]struct{}),
	}
	ch.OnDiagnostic(w.handleDiagnostic)

	if err := w.waitForReady(ctx); err != nil {
		ch.Close()
		return nil, err
	}

	go w.watchExit()
	return w, nil
}

// waitForReady performs the readiness handshake. A buffering guard on the
// pid-keyed synchronization target is held until the subscription is
// installed, so the readiness notification cannot be lost to the race
// between spawn and subscribe.
func (w *Worker) waitForReady(ctx context.Context) error {
	target := strconv.Itoa(os.Getpid())
	guard := w.channel.BufferMessagesFor(target)

	ready := make(chan error, 1)
	sub := w.channel.SubscribeToNotifications(target, w.readinessFunc(ready))
	defer sub.Remove()

	// Allow engine messages to go through.
	guard.Release()

	select {
	case err := <-ready:
		return err
	case status := <-w.handle.Exited():
		return fmt.Errorf("%w: %s", ErrEngineExitedEarly, status)
	case <-ctx.Done():
		w.handle.Kill()
		return ctx.Err()
	}
}

// readinessFunc builds the handshake notification callback. The engine
// contract is exactly one readiness notification; a second one means the
// engine is broken and there is no sane way to continue.
func (w *Worker) readinessFunc(ready chan<- error) channel.NotificationFunc {
	var seen atomic.Bool
	return func(n channel.Notification) {
		if !seen.CompareAndSwap(false, true) {
			panic(fmt.Sprintf("worker: received more than one readiness notification [id:%s]", w.id))
		}
		if n.Event != readinessEvent {
			ready <- fmt.Errorf("worker: unexpected first notification %q from engine", n.Event)
			return
		}
		w.logger.Debug().Msg("engine running")
		ready <- nil
	}
}

func (w *Worker) watchExit() {
	status := <-w.handle.Exited()
	w.entMu.Lock()
	routers, servers := len(w.liveRouters), len(w.liveServers)
	w.entMu.Unlock()
	w.logger.Warn().
		Str("status", status.String()).
		Int("live_routers", routers).
		Int("live_webrtc_servers", servers).
		Msg("engine exited")
	w.channel.Close()
	if w.closed.CompareAndSwap(false, true) {
		w.handlers.dead.call(status)
		w.handlers.close.call(struct{}{})
	}
}

func (w *Worker) handleDiagnostic(d channel.Diagnostic) {
	switch d.Kind {
	case channel.DiagnosticDebug:
		w.logger.Debug().Msg(d.Text)
	case channel.DiagnosticWarn:
		w.logger.Warn().Msg(d.Text)
	case channel.DiagnosticError:
		if !w.closed.Load() {
			w.logger.Error().Msg(d.Text)
		}
	case channel.DiagnosticDump:
		fmt.Fprintln(os.Stdout, d.Text)
	default:
		w.logger.Error().Bytes("data", d.Raw).Msg("unexpected channel data")
	}
}

// ID is the worker's identity.
func (w *Worker) ID() WorkerID { return w.id }

// AppData is the opaque caller payload given at creation.
func (w *Worker) AppData() any { return w.appData }

// Closed reports whether the worker has transitioned to closed.
func (w *Worker) Closed() bool { return w.closed.Load() }

// Close transitions the worker to closed exactly once: a best-effort close
// request goes to the engine without being awaited and close listeners fire.
// Subsequent calls are no-ops.
func (w *Worker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.logger.Debug().Msg("close()")

	ch := w.channel
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeRequestTimeout)
		defer cancel()
		_, _ = ch.Request(ctx, "", methodWorkerClose, nil)
		ch.Close()
	}()

	w.handlers.close.call(struct{}{})
}

// CreateRouter allocates a router id, gates its notifications, and asks the
// engine to create the router. New-router listeners fire before the gate
// releases, so the returned handle observes buffered events in order.
func (w *Worker) CreateRouter(ctx context.Context, options RouterOptions) (*Router, error) {
	w.logger.Debug().Msg("create_router()")

	capabilities, err := generateRouterRtpCapabilities(options.MediaCodecs)
	if err != nil {
		return nil, err
	}

	id := NewRouterID()
	guard := w.channel.BufferMessagesFor(id.String())
	defer guard.Release()

	body := struct {
		RouterID RouterID `json:"routerId"`
	}{RouterID: id}
	if _, err := w.channel.Request(ctx, "", methodCreateRouter, body); err != nil {
		return nil, fmt.Errorf("worker: create router request: %w", err)
	}

	w.entMu.Lock()
	w.liveRouters[id] = struct{}{}
	w.entMu.Unlock()

	router := newRouter(id, w.channel, w.logger, capabilities, options.AppData, func() {
		w.entMu.Lock()
		delete(w.liveRouters, id)
		w.entMu.Unlock()
	})
	w.handlers.newRouter.call(router)
	guard.Release()
	return router, nil
}

// CreateWebRtcServer allocates a server id, gates its notifications, and asks
// the engine to create the server.
func (w *Worker) CreateWebRtcServer(ctx context.Context, options WebRtcServerOptions) (*WebRtcServer, error) {
	w.logger.Debug().Msg("create_webrtc_server()")

	if err := validateListenInfos(options.ListenInfos); err != nil {
		return nil, err
	}

	id := NewWebRtcServerID()
	guard := w.channel.BufferMessagesFor(id.String())
	defer guard.Release()

	body := struct {
		WebRtcServerID WebRtcServerID `json:"webRtcServerId"`
		ListenInfos    []ListenInfo   `json:"listenInfos"`
	}{WebRtcServerID: id, ListenInfos: options.ListenInfos}
	if _, err := w.channel.Request(ctx, "", methodCreateWebRtcServer, body); err != nil {
		return nil, fmt.Errorf("worker: create webrtc server request: %w", err)
	}

	w.entMu.Lock()
	w.liveServers[id] = struct{}{}
	w.entMu.Unlock()

	server := newWebRtcServer(id, w.channel, w.logger, options.AppData, func() {
		w.entMu.Lock()
		delete(w.liveServers, id)
		w.entMu.Unlock()
	})
	w.handlers.newWebRtcServer.call(server)
	guard.Release()
	return server, nil
}

// UpdateSettings updates the subset of engine settings that can change at
// runtime. Absent fields are left unchanged engine-side.
func (w *Worker) UpdateSettings(ctx context.Context, settings UpdateSettings) error {
	w.logger.Debug().Msg("update_settings()")
	_, err := w.channel.Request(ctx, "", methodWorkerUpdateSettings, settings)
	return err
}

// Dump returns the engine's snapshot of this worker. Read-only.
func (w *Worker) Dump(ctx context.Context) (WorkerDump, error) {
	w.logger.Debug().Msg("dump()")
	var dump WorkerDump
	if err := w.channel.RequestInto(ctx, "", methodWorkerDump, nil, &dump); err != nil {
		return WorkerDump{}, err
	}
	return dump, nil
}

// OnNewRouter registers a callback invoked every time a router is created.
func (w *Worker) OnNewRouter(fn func(*Router)) ListenerHandle {
	id := w.handlers.newRouter.add(fn)
	return ListenerHandle{remove: func() { w.handlers.newRouter.remove(id) }}
}

// OnNewWebRtcServer registers a callback invoked every time a WebRTC server
// is created.
func (w *Worker) OnNewWebRtcServer(fn func(*WebRtcServer)) ListenerHandle {
	id := w.handlers.newWebRtcServer.add(fn)
	return ListenerHandle{remove: func() { w.handlers.newWebRtcServer.remove(id) }}
}

// OnDead registers a callback that fires at most once, only if the engine
// terminates unexpectedly while the worker is not already closed.
func (w *Worker) OnDead(fn func(ExitStatus)) ListenerHandle {
	id := w.handlers.dead.add(fn)
	return ListenerHandle{remove: func() { w.handlers.dead.remove(id) }}
}

// OnClose registers a callback that fires at most once on any close,
// requested or unexpected. If the worker is already closed the callback
// fires immediately and synchronously.
func (w *Worker) OnClose(fn func()) ListenerHandle {
	id := w.handlers.close.add(func(struct{}) { fn() })
	if w.closed.Load() {
		w.handlers.close.call(struct{}{})
	}
	return ListenerHandle{remove: func() { w.handlers.close.remove(id) }}
}
