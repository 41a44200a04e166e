package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/mediactl/channel"
	"github.com/danmuck/mediactl/engine"
	"github.com/danmuck/mediactl/internal/testutil/testlog"
)

// fakeEngineTransport is the engine side of the channel for tests: outbound
// frames are served to the fake engine, inbound frames are injected.
type fakeEngineTransport struct {
	sentCh chan []byte

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	inbound chan []byte
}

func newFakeEngineTransport() *fakeEngineTransport {
	return &fakeEngineTransport{
		sentCh:  make(chan []byte, 64),
		done:    make(chan struct{}),
		inbound: make(chan []byte, 64),
	}
}

func (t *fakeEngineTransport) Send(frame []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	t.sentCh <- append([]byte(nil), frame...)
	return nil
}

func (t *fakeEngineTransport) Recv() ([]byte, error) {
	select {
	case frame := <-t.inbound:
		return frame, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeEngineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func (t *fakeEngineTransport) push(frame []byte) {
	select {
	case t.inbound <- frame:
	case <-t.done:
	}
}

type recordedRequest struct {
	ID     uint64          `json:"id"`
	Target string          `json:"targetId"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

// fakeEngine scripts the engine end of the protocol: it emits the readiness
// notification and answers every request with success.
type fakeEngine struct {
	transport *fakeEngineTransport
	exited    chan engine.ExitStatus

	launched atomic.Bool
	args     []string
	killed   atomic.Bool
	silent   bool
	mute     atomic.Bool

	mu          sync.Mutex
	requests    []recordedRequest
	dumpBody    string
	afterCreate func(entityTarget string)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		transport: newFakeEngineTransport(),
		exited:    make(chan engine.ExitStatus, 1),
	}
}

func (f *fakeEngine) Launch(ctx context.Context, args []string) (*engine.Handle, error) {
	f.launched.Store(true)
	f.args = append([]string(nil), args...)
	go f.serve()
	return engine.NewHandle(f.transport, f.exited, func() { f.killed.Store(true) }), nil
}

func (f *fakeEngine) serve() {
	if !f.silent {
		f.notify(strconv.Itoa(os.Getpid()), "running", "")
	}
	for {
		select {
		case frame := <-f.transport.sentCh:
			var req recordedRequest
			if err := json.Unmarshal(frame, &req); err != nil {
				continue
			}
			f.mu.Lock()
			f.requests = append(f.requests, req)
			f.mu.Unlock()
			f.respond(req)
		case <-f.transport.done:
			return
		}
	}
}

func (f *fakeEngine) respond(req recordedRequest) {
	if f.mute.Load() {
		return
	}
	f.mu.Lock()
	dumpBody := f.dumpBody
	afterCreate := f.afterCreate
	f.mu.Unlock()
	switch req.Method {
	case methodWorkerDump:
		if dumpBody == "" {
			dumpBody = `{"routerIds":[],"webRtcServerIds":[],"channelMessageHandlers":{"channelRequestHandlers":[],"channelNotificationHandlers":[]}}`
		}
		f.transport.push([]byte(fmt.Sprintf(`{"id":%d,"accepted":true,"body":%s}`, req.ID, dumpBody)))
	case methodCreateRouter:
		f.transport.push([]byte(fmt.Sprintf(`{"id":%d,"accepted":true}`, req.ID)))
		if afterCreate != nil {
			var body struct {
				RouterID string `json:"routerId"`
			}
			_ = json.Unmarshal(req.Body, &body)
			afterCreate(body.RouterID)
		}
	default:
		f.transport.push([]byte(fmt.Sprintf(`{"id":%d,"accepted":true}`, req.ID)))
	}
}

func (f *fakeEngine) notify(target, event, body string) {
	frame := fmt.Sprintf(`{"targetId":%q,"event":%q`, target, event)
	if body != "" {
		frame += `,"body":` + body
	}
	frame += "}"
	f.transport.push([]byte(frame))
}

func (f *fakeEngine) exit(status engine.ExitStatus) {
	f.exited <- status
}

func (f *fakeEngine) requestsFor(method string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, req := range f.requests {
		if req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

func newTestWorker(t *testing.T) (*Worker, *fakeEngine) {
	t.Helper()
	testlog.Start(t)
	fe := newFakeEngine()
	settings := DefaultSettings()
	settings.Launcher = fe
	w, err := New(context.Background(), settings)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w, fe
}

func audioCodec() RtpCodecCapability {
	return RtpCodecCapability{
		Kind:      MediaKindAudio,
		MimeType:  "audio/opus",
		ClockRate: 48000,
		Channels:  2,
	}
}

func TestNewWorkerHandshake(t *testing.T) {
	w, fe := newTestWorker(t)
	require.False(t, w.Closed())
	require.True(t, fe.launched.Load())
	require.Contains(t, fe.args, "--rtcMinPort=10000")
	require.Contains(t, fe.args, "--rtcMaxPort=59999")
}

func TestNewWorkerValidatesBeforeLaunch(t *testing.T) {
	testlog.Start(t)
	fe := newFakeEngine()
	settings := DefaultSettings()
	settings.Launcher = fe
	settings.RTCMinPort = 20000
	settings.RTCMaxPort = 19999

	_, err := New(context.Background(), settings)
	require.ErrorIs(t, err, engine.ErrInvalidPortRange)
	require.False(t, fe.launched.Load(), "no engine may start on invalid configuration")
}

func TestNewWorkerEngineExitsBeforeReady(t *testing.T) {
	testlog.Start(t)
	fe := newFakeEngine()
	fe.silent = true
	settings := DefaultSettings()
	settings.Launcher = fe

	go fe.exit(engine.ExitStatus{Code: 42, Err: fmt.Errorf("exit status 42")})
	_, err := New(context.Background(), settings)
	require.ErrorIs(t, err, ErrEngineExitedEarly)
}

func TestNewWorkerCreationContextCancel(t *testing.T) {
	testlog.Start(t)
	fe := newFakeEngine()
	fe.silent = true
	settings := DefaultSettings()
	settings.Launcher = fe

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(ctx, settings)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, fe.killed.Load())
}

func TestCreateRouterFiresNewRouterOnce(t *testing.T) {
	w, fe := newTestWorker(t)

	var fired atomic.Int32
	var seen *Router
	w.OnNewRouter(func(r *Router) {
		fired.Add(1)
		seen = r
	})

	router, err := w.CreateRouter(context.Background(), RouterOptions{
		MediaCodecs: []RtpCodecCapability{audioCodec()},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), fired.Load())
	require.Same(t, router, seen)

	reqs := fe.requestsFor(methodCreateRouter)
	require.Len(t, reqs, 1)
	var body struct {
		RouterID string `json:"routerId"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Equal(t, router.ID().String(), body.RouterID)

	caps := router.RtpCapabilities()
	require.Len(t, caps.Codecs, 1)
	require.NotZero(t, caps.Codecs[0].PreferredPayloadType)
}

func TestCreateRouterInvalidCodecsSendsNothing(t *testing.T) {
	w, fe := newTestWorker(t)

	_, err := w.CreateRouter(context.Background(), RouterOptions{
		MediaCodecs: []RtpCodecCapability{{Kind: "noise", MimeType: "noise/white", ClockRate: 8000}},
	})
	require.ErrorIs(t, err, ErrInvalidMediaCodecs)
	require.Empty(t, fe.requestsFor(methodCreateRouter))
}

func TestCreateRouterBufferedNotificationsReachNewHandle(t *testing.T) {
	w, fe := newTestWorker(t)

	// The engine emits an event about the router immediately after
	// acknowledging its creation, before the caller holds the handle.
	fe.mu.Lock()
	fe.afterCreate = func(target string) {
		fe.notify(target, "scorechange", "")
		fe.notify(target, "trace", "")
	}
	fe.mu.Unlock()

	var mu sync.Mutex
	var events []string
	w.OnNewRouter(func(r *Router) {
		r.SubscribeToNotifications(func(n channel.Notification) {
			mu.Lock()
			events = append(events, n.Event)
			mu.Unlock()
		})
	})

	_, err := w.CreateRouter(context.Background(), RouterOptions{
		MediaCodecs: []RtpCodecCapability{audioCodec()},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"scorechange", "trace"}, events)
}

func TestCreateWebRtcServerForwardsListenInfos(t *testing.T) {
	w, fe := newTestWorker(t)

	var fired atomic.Int32
	w.OnNewWebRtcServer(func(*WebRtcServer) { fired.Add(1) })

	server, err := w.CreateWebRtcServer(context.Background(), WebRtcServerOptions{
		ListenInfos: []ListenInfo{{Protocol: "udp", IP: "127.0.0.1", Port: 44444}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), fired.Load())

	reqs := fe.requestsFor(methodCreateWebRtcServer)
	require.Len(t, reqs, 1)
	var body struct {
		WebRtcServerID string       `json:"webRtcServerId"`
		ListenInfos    []ListenInfo `json:"listenInfos"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Equal(t, server.ID().String(), body.WebRtcServerID)
	require.Equal(t, []ListenInfo{{Protocol: "udp", IP: "127.0.0.1", Port: 44444}}, body.ListenInfos)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, fe := newTestWorker(t)

	var closes atomic.Int32
	w.OnClose(func() { closes.Add(1) })

	w.Close()
	w.Close()
	w.Close()

	require.True(t, w.Closed())
	require.Equal(t, int32(1), closes.Load())
	require.Eventually(t, func() bool {
		return len(fe.requestsFor(methodWorkerClose)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, fe.requestsFor(methodWorkerClose), 1, "close request must be sent exactly once")
}

func TestOnCloseAfterClosedFiresImmediately(t *testing.T) {
	w, _ := newTestWorker(t)
	w.Close()

	fired := false
	w.OnClose(func() { fired = true })
	require.True(t, fired, "late close listener must fire synchronously at registration")
}

func TestDeadFiresOnUnexpectedExit(t *testing.T) {
	w, fe := newTestWorker(t)

	var deadStatus atomic.Pointer[engine.ExitStatus]
	var closes atomic.Int32
	w.OnDead(func(status ExitStatus) { deadStatus.Store(&status) })
	w.OnClose(func() { closes.Add(1) })

	fe.exit(engine.ExitStatus{Signal: "killed", Err: fmt.Errorf("signal: killed")})

	require.Eventually(t, func() bool {
		return deadStatus.Load() != nil && closes.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "killed", deadStatus.Load().Signal)
	require.True(t, w.Closed())
}

func TestDeadDoesNotFireAfterExplicitClose(t *testing.T) {
	w, fe := newTestWorker(t)

	var dead atomic.Int32
	var closes atomic.Int32
	w.OnDead(func(ExitStatus) { dead.Add(1) })
	w.OnClose(func() { closes.Add(1) })

	w.Close()
	fe.exit(engine.ExitStatus{Ok: true})

	require.Eventually(t, func() bool { return closes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), dead.Load(), "dead listeners only fire on unexpected termination")
	require.Equal(t, int32(1), closes.Load())
}

func TestRequestsPendingAtExitResolveClosed(t *testing.T) {
	w, fe := newTestWorker(t)
	fe.mute.Store(true) // swallow everything after the handshake

	errs := make(chan error, 1)
	go func() {
		_, err := w.Dump(context.Background())
		errs <- err
	}()

	// Let the request go out, then tear the engine down underneath it.
	require.Eventually(t, func() bool {
		return len(fe.requestsFor(methodWorkerDump)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	fe.transport.Close()

	require.ErrorIs(t, <-errs, channel.ErrChannelClosed)
}

func TestUpdateSettingsSendsOnlyPresentFields(t *testing.T) {
	w, fe := newTestWorker(t)

	level := engine.LogLevelWarn
	require.NoError(t, w.UpdateSettings(context.Background(), UpdateSettings{LogLevel: &level}))

	reqs := fe.requestsFor(methodWorkerUpdateSettings)
	require.Len(t, reqs, 1)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Contains(t, body, "logLevel")
	require.NotContains(t, body, "logTags")
}

func TestDumpDecodesSnapshot(t *testing.T) {
	w, fe := newTestWorker(t)

	routerID := NewRouterID()
	fe.mu.Lock()
	fe.dumpBody = fmt.Sprintf(
		`{"routerIds":[%q],"webRtcServerIds":[],"channelMessageHandlers":{"channelRequestHandlers":["a"],"channelNotificationHandlers":["b","c"]}}`,
		routerID,
	)
	fe.mu.Unlock()

	dump, err := w.Dump(context.Background())
	require.NoError(t, err)
	require.Equal(t, []RouterID{routerID}, dump.RouterIDs)
	require.Empty(t, dump.WebRtcServerIDs)
	require.Equal(t, []string{"a"}, dump.ChannelMessageHandlers.ChannelRequestHandlers)
	require.Len(t, dump.ChannelMessageHandlers.ChannelNotificationHandlers, 2)
}

func TestRouterCloseSendsCloseRequestOnce(t *testing.T) {
	w, fe := newTestWorker(t)

	router, err := w.CreateRouter(context.Background(), RouterOptions{
		MediaCodecs: []RtpCodecCapability{audioCodec()},
	})
	require.NoError(t, err)

	router.Close()
	router.Close()
	require.True(t, router.Closed())

	require.Eventually(t, func() bool {
		return len(fe.requestsFor(methodCloseRouter)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, fe.requestsFor(methodCloseRouter), 1)
}

func TestWorkerAppData(t *testing.T) {
	testlog.Start(t)
	fe := newFakeEngine()
	settings := DefaultSettings()
	settings.Launcher = fe
	settings.AppData = map[string]string{"zone": "eu-1"}

	w, err := New(context.Background(), settings)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	require.Equal(t, map[string]string{"zone": "eu-1"}, w.AppData())
}

func TestCreateWebRtcServerRejectsBadListenInfos(t *testing.T) {
	w, fe := newTestWorker(t)

	cases := []struct {
		name  string
		infos []ListenInfo
	}{
		{"empty", nil},
		{"bad protocol", []ListenInfo{{Protocol: "sctp", IP: "127.0.0.1"}}},
		{"missing ip", []ListenInfo{{Protocol: "udp"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.CreateWebRtcServer(context.Background(), WebRtcServerOptions{ListenInfos: tc.infos})
			require.ErrorIs(t, err, ErrInvalidListenInfos)
		})
	}
	require.Empty(t, fe.requestsFor(methodCreateWebRtcServer))
}

func TestErrorDiagnosticsSuppressedAfterClose(t *testing.T) {
	w, _ := newTestWorker(t)

	var buf bytes.Buffer
	w.logger = zerolog.New(&buf).Level(zerolog.ErrorLevel)

	w.handleDiagnostic(channel.Diagnostic{Kind: channel.DiagnosticError, Text: "engine is unhappy"})
	require.Contains(t, buf.String(), "engine is unhappy")

	w.Close()
	buf.Reset()
	w.handleDiagnostic(channel.Diagnostic{Kind: channel.DiagnosticError, Text: "teardown noise"})
	require.Empty(t, buf.String(), "error-severity engine output is dropped once closed")
}

func TestDuplicateReadinessNotificationPanics(t *testing.T) {
	w, _ := newTestWorker(t)

	ready := make(chan error, 2)
	fn := w.readinessFunc(ready)
	fn(channel.Notification{Event: "running"})
	require.NoError(t, <-ready)
	require.Panics(t, func() { fn(channel.Notification{Event: "running"}) })
}
