package worker

import (
	"errors"
	"fmt"
	"strings"
)

// MediaKind is the media type of one codec.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

var ErrInvalidMediaCodecs = errors.New("worker: invalid media codecs")

// RtpCodecCapability describes one codec the router should support. Payload
// shapes beyond what capability negotiation needs are opaque to this layer.
type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint8          `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
}

// RtpCapabilities is the negotiated capability set a router is created with.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

// generateRouterRtpCapabilities validates the requested codecs and assigns
// dynamic payload types to the ones that carry none. It runs before any
// request reaches the engine; a failure here sends nothing.
func generateRouterRtpCapabilities(mediaCodecs []RtpCodecCapability) (RtpCapabilities, error) {
	if len(mediaCodecs) == 0 {
		return RtpCapabilities{}, fmt.Errorf("%w: no codecs given", ErrInvalidMediaCodecs)
	}

	used := make(map[uint8]struct{})
	for _, codec := range mediaCodecs {
		if codec.PreferredPayloadType != 0 {
			used[codec.PreferredPayloadType] = struct{}{}
		}
	}

	nextPayloadType := uint8(100)
	out := make([]RtpCodecCapability, 0, len(mediaCodecs))
	for i, codec := range mediaCodecs {
		switch codec.Kind {
		case MediaKindAudio, MediaKindVideo:
		default:
			return RtpCapabilities{}, fmt.Errorf("%w: codecs[%d] invalid kind %q", ErrInvalidMediaCodecs, i, codec.Kind)
		}
		prefix := string(codec.Kind) + "/"
		if !strings.HasPrefix(strings.ToLower(codec.MimeType), prefix) {
			return RtpCapabilities{}, fmt.Errorf(
				"%w: codecs[%d] mime type %q does not match kind %q",
				ErrInvalidMediaCodecs, i, codec.MimeType, codec.Kind,
			)
		}
		if codec.ClockRate == 0 {
			return RtpCapabilities{}, fmt.Errorf("%w: codecs[%d] missing clock rate", ErrInvalidMediaCodecs, i)
		}
		if codec.Kind == MediaKindAudio && codec.Channels == 0 {
			codec.Channels = 1
		}
		if codec.PreferredPayloadType == 0 {
			for {
				if nextPayloadType > 127 {
					return RtpCapabilities{}, fmt.Errorf("%w: cannot allocate more dynamic payload types", ErrInvalidMediaCodecs)
				}
				if _, taken := used[nextPayloadType]; !taken {
					break
				}
				nextPayloadType++
			}
			codec.PreferredPayloadType = nextPayloadType
			used[nextPayloadType] = struct{}{}
		}
		out = append(out, codec)
	}

	return RtpCapabilities{Codecs: out}, nil
}
