package worker

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/channel"
)

// RouterOptions configures router creation.
type RouterOptions struct {
	MediaCodecs []RtpCodecCapability
	AppData     any
}

// Router is the locally owned handle for one engine router. The higher-level
// media API wraps this; the control plane only routes its messages.
type Router struct {
	id              RouterID
	channel         *channel.Channel
	logger          zerolog.Logger
	rtpCapabilities RtpCapabilities
	appData         any
	closed          atomic.Bool
	onClose         func()
}

func newRouter(id RouterID, ch *channel.Channel, logger zerolog.Logger, capabilities RtpCapabilities, appData any, onClose func()) *Router {
	return &Router{
		id:              id,
		channel:         ch,
		logger:          logger.With().Str("router_id", id.String()).Logger(),
		rtpCapabilities: capabilities,
		appData:         appData,
		onClose:         onClose,
	}
}

func (r *Router) ID() RouterID { return r.id }

// RtpCapabilities is the capability set negotiated at creation time.
func (r *Router) RtpCapabilities() RtpCapabilities { return r.rtpCapabilities }

func (r *Router) AppData() any { return r.appData }

func (r *Router) Closed() bool { return r.closed.Load() }

// SubscribeToNotifications routes engine events addressed to this router.
func (r *Router) SubscribeToNotifications(fn channel.NotificationFunc) channel.SubscriptionHandle {
	return r.channel.SubscribeToNotifications(r.id.String(), fn)
}

// Close asks the engine to drop the router. Idempotent, best effort.
func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.logger.Debug().Msg("close()")
	if r.onClose != nil {
		r.onClose()
	}

	ch := r.channel
	id := r.id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeRequestTimeout)
		defer cancel()
		body := struct {
			RouterID RouterID `json:"routerId"`
		}{RouterID: id}
		_, _ = ch.Request(ctx, "", methodCloseRouter, body)
	}()
}
