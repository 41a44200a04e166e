package worker

import "github.com/danmuck/mediactl/engine"

// ChannelMessageHandlers is the engine's view of its registered per-entity
// request and notification handlers, exposed for diagnostics.
type ChannelMessageHandlers struct {
	ChannelRequestHandlers      []string `json:"channelRequestHandlers"`
	ChannelNotificationHandlers []string `json:"channelNotificationHandlers"`
}

// WorkerDump is the engine's on-demand snapshot of one worker. Not persisted.
type WorkerDump struct {
	RouterIDs              []RouterID             `json:"routerIds"`
	WebRtcServerIDs        []WebRtcServerID       `json:"webRtcServerIds"`
	ChannelMessageHandlers ChannelMessageHandlers `json:"channelMessageHandlers"`
}

// UpdateSettings carries the runtime-updatable subset of engine settings.
// Nil fields are omitted from the request and left unchanged engine-side.
type UpdateSettings struct {
	LogLevel *engine.LogLevel `json:"logLevel,omitempty"`
	LogTags  *[]engine.LogTag `json:"logTags,omitempty"`
}
