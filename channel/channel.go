package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/internal/observability"
)

// NotificationFunc receives one inbound engine event for a subscribed target.
type NotificationFunc func(Notification)

type subscriber struct {
	id uint64
	fn NotificationFunc
}

type bufferQueue struct {
	items []Notification
}

type completion struct {
	body json.RawMessage
	err  error
}

// Channel correlates outbound requests with inbound responses and routes
// inbound notifications to per-target subscribers. It is shared by the worker
// handle and every sub-entity handle.
type Channel struct {
	transport Transport
	logger    zerolog.Logger

	nextID  atomic.Uint64
	closed  atomic.Bool
	done    chan struct{}
	nextSub atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan completion
	subs    map[string][]subscriber
	buffers map[string]*bufferQueue

	diagMu sync.Mutex
	diagFn func(Diagnostic)
}

// New wraps the transport and starts the receive loop. The caller owns the
// channel and must Close it; a transport teardown closes it as well.
func New(transport Transport, logger zerolog.Logger) *Channel {
	c := &Channel{
		transport: transport,
		logger:    logger,
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan completion),
		subs:      make(map[string][]subscriber),
		buffers:   make(map[string]*bufferQueue),
	}
	go c.recvLoop()
	return c
}

// Closed reports whether the channel has been torn down.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Close tears down the transport and resolves every pending request as
// ErrChannelClosed. It is idempotent.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.transport.Close()

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan completion)
	c.mu.Unlock()

	for _, done := range pending {
		done <- completion{err: ErrChannelClosed}
	}
}

// Request sends {target, correlation id, method, body} and blocks until the
// engine responds, the context ends, or the channel closes. Body may be nil.
func (c *Channel) Request(ctx context.Context, target, method string, body any) (json.RawMessage, error) {
	if c.closed.Load() {
		observability.RecordChannelRequest(method, "closed")
		return nil, ErrChannelClosed
	}

	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("channel: encode request body: %w", err)
		}
		raw = data
	}

	id := c.nextID.Add(1)
	env := requestEnvelope{
		ID:     id,
		Target: target,
		Method: method,
		Body:   raw,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("channel: encode request: %w", err)
	}

	done := make(chan completion, 1)
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		observability.RecordChannelRequest(method, "closed")
		return nil, ErrChannelClosed
	}
	c.pending[id] = done
	c.mu.Unlock()

	if err := c.transport.Send(frame); err != nil {
		c.retire(id)
		observability.RecordChannelRequest(method, "closed")
		return nil, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}

	select {
	case res := <-done:
		switch {
		case res.err != nil:
			observability.RecordChannelRequest(method, outcomeFor(res.err))
			return nil, res.err
		default:
			observability.RecordChannelRequest(method, "ok")
			return res.body, nil
		}
	case <-ctx.Done():
		c.retire(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			observability.RecordChannelRequest(method, "timeout")
			return nil, ErrRequestTimeout
		}
		observability.RecordChannelRequest(method, "canceled")
		return nil, ctx.Err()
	case <-c.done:
		observability.RecordChannelRequest(method, "closed")
		return nil, ErrChannelClosed
	}
}

// RequestInto issues Request and decodes the response body into out. An
// absent body is ErrNoData; a decode failure is a ConversionError.
func (c *Channel) RequestInto(ctx context.Context, target, method string, body, out any) error {
	raw, err := c.Request(ctx, target, method, body)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ErrNoData
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ConversionError{Err: err}
	}
	return nil
}

// SubscribeToNotifications registers fn under target. Callbacks for one
// target run in registration order on the dispatch path.
func (c *Channel) SubscribeToNotifications(target string, fn NotificationFunc) SubscriptionHandle {
	id := c.nextSub.Add(1)
	c.mu.Lock()
	c.subs[target] = append(c.subs[target], subscriber{id: id, fn: fn})
	c.mu.Unlock()
	return SubscriptionHandle{c: c, target: target, id: id}
}

// OnDiagnostic replaces the diagnostic sink. Passing nil restores the default
// sink, which logs through the channel logger.
func (c *Channel) OnDiagnostic(fn func(Diagnostic)) {
	c.diagMu.Lock()
	c.diagFn = fn
	c.diagMu.Unlock()
}

// SubscriptionHandle removes exactly one notification callback.
type SubscriptionHandle struct {
	c      *Channel
	target string
	id     uint64
}

func (h SubscriptionHandle) Remove() {
	if h.c == nil {
		return
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	subs := h.c.subs[h.target]
	for i, s := range subs {
		if s.id == h.id {
			h.c.subs[h.target] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.c.subs[h.target]) == 0 {
		delete(h.c.subs, h.target)
	}
}

func (c *Channel) recvLoop() {
	for {
		frame, err := c.transport.Recv()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Debug().Err(err).Msg("transport closed")
			}
			c.Close()
			return
		}
		c.dispatch(frame)
	}
}

func (c *Channel) dispatch(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if frame[0] != '{' {
		c.emitDiagnostic(decodeDiagnostic(frame))
		return
	}

	var probe inboundProbe
	if err := json.Unmarshal(frame, &probe); err != nil {
		c.emitDiagnostic(Diagnostic{Kind: DiagnosticUnexpected, Raw: frame})
		return
	}

	switch {
	case probe.ID != nil:
		c.dispatchResponse(*probe.ID, frame)
	case probe.Event != nil:
		var n Notification
		if err := json.Unmarshal(frame, &n); err != nil {
			c.emitDiagnostic(Diagnostic{Kind: DiagnosticUnexpected, Raw: frame})
			return
		}
		c.deliver(n)
	default:
		c.emitDiagnostic(Diagnostic{Kind: DiagnosticUnexpected, Raw: frame})
	}
}

func (c *Channel) dispatchResponse(id uint64, frame []byte) {
	c.mu.Lock()
	done, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		// Caller gave up on this correlation id; the response is discarded.
		c.logger.Debug().Uint64("correlation_id", id).Msg("response without pending request")
		return
	}

	var env responseEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		done <- completion{err: &ParseError{Err: err}}
		return
	}
	if !env.Accepted {
		reason := env.Reason
		if reason == "" {
			reason = env.Error
		}
		done <- completion{err: &ResponseError{Reason: reason}}
		return
	}
	done <- completion{body: env.Body}
}

// deliver hands one notification to its target's subscribers, or queues it
// while a buffer guard for the target is active.
func (c *Channel) deliver(n Notification) {
	c.mu.Lock()
	if q, ok := c.buffers[n.Target]; ok {
		q.items = append(q.items, n)
		c.mu.Unlock()
		observability.RecordNotification("buffered")
		return
	}
	subs := slices.Clone(c.subs[n.Target])
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(n)
	}
	observability.RecordNotification("dispatched")
}

func (c *Channel) retire(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) emitDiagnostic(d Diagnostic) {
	c.diagMu.Lock()
	fn := c.diagFn
	c.diagMu.Unlock()
	if fn != nil {
		fn(d)
		return
	}

	switch d.Kind {
	case DiagnosticDebug:
		c.logger.Debug().Msg(d.Text)
	case DiagnosticWarn:
		c.logger.Warn().Msg(d.Text)
	case DiagnosticError:
		if !c.closed.Load() {
			c.logger.Error().Msg(d.Text)
		}
	case DiagnosticDump:
		fmt.Fprintln(os.Stdout, d.Text)
	default:
		c.logger.Error().Bytes("data", d.Raw).Msg("unexpected channel data")
	}
}

func outcomeFor(err error) string {
	var respErr *ResponseError
	var parseErr *ParseError
	switch {
	case errors.Is(err, ErrChannelClosed):
		return "closed"
	case errors.As(err, &respErr):
		return "response_error"
	case errors.As(err, &parseErr):
		return "parse_error"
	default:
		return "error"
	}
}
