package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/channel"
)

var ErrInvalidListenInfos = errors.New("worker: invalid listen infos")

// ListenInfo describes one transport listening endpoint for a WebRTC server.
// Beyond the checks below its contents are forwarded to the engine as-is.
type ListenInfo struct {
	Protocol         string `json:"protocol"`
	IP               string `json:"ip"`
	AnnouncedAddress string `json:"announcedAddress,omitempty"`
	Port             uint16 `json:"port,omitempty"`
}

// WebRtcServerOptions configures WebRTC server creation.
type WebRtcServerOptions struct {
	ListenInfos []ListenInfo
	AppData     any
}

func validateListenInfos(infos []ListenInfo) error {
	if len(infos) == 0 {
		return fmt.Errorf("%w: no listen infos given", ErrInvalidListenInfos)
	}
	for i, info := range infos {
		switch info.Protocol {
		case "udp", "tcp":
		default:
			return fmt.Errorf("%w: listenInfos[%d] invalid protocol %q", ErrInvalidListenInfos, i, info.Protocol)
		}
		if info.IP == "" {
			return fmt.Errorf("%w: listenInfos[%d] missing ip", ErrInvalidListenInfos, i)
		}
	}
	return nil
}

// WebRtcServer is the locally owned handle for one engine WebRTC server.
type WebRtcServer struct {
	id      WebRtcServerID
	channel *channel.Channel
	logger  zerolog.Logger
	appData any
	closed  atomic.Bool
	onClose func()
}

func newWebRtcServer(id WebRtcServerID, ch *channel.Channel, logger zerolog.Logger, appData any, onClose func()) *WebRtcServer {
	return &WebRtcServer{
		id:      id,
		channel: ch,
		logger:  logger.With().Str("webrtc_server_id", id.String()).Logger(),
		appData: appData,
		onClose: onClose,
	}
}

func (s *WebRtcServer) ID() WebRtcServerID { return s.id }

func (s *WebRtcServer) AppData() any { return s.appData }

func (s *WebRtcServer) Closed() bool { return s.closed.Load() }

// SubscribeToNotifications routes engine events addressed to this server.
func (s *WebRtcServer) SubscribeToNotifications(fn channel.NotificationFunc) channel.SubscriptionHandle {
	return s.channel.SubscribeToNotifications(s.id.String(), fn)
}

// Close asks the engine to drop the server. Idempotent, best effort.
func (s *WebRtcServer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Debug().Msg("close()")
	if s.onClose != nil {
		s.onClose()
	}

	ch := s.channel
	id := s.id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeRequestTimeout)
		defer cancel()
		body := struct {
			WebRtcServerID WebRtcServerID `json:"webRtcServerId"`
		}{WebRtcServerID: id}
		_, _ = ch.Request(ctx, "", methodCloseWebRtcServer, body)
	}()
}
