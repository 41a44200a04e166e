package channel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// requestEnvelope is the outbound call shape sent to the engine.
type requestEnvelope struct {
	ID     uint64          `json:"id"`
	Target string          `json:"targetId,omitempty"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (e requestEnvelope) Validate() error {
	if e.ID == 0 {
		return fmt.Errorf("channel: request missing id")
	}
	if strings.TrimSpace(e.Method) == "" {
		return fmt.Errorf("channel: request missing method")
	}
	return nil
}

// responseEnvelope is the inbound completion shape for one correlation id.
type responseEnvelope struct {
	ID       uint64          `json:"id"`
	Accepted bool            `json:"accepted"`
	Error    string          `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// Notification is one inbound engine event addressed to a target.
type Notification struct {
	Target string          `json:"targetId"`
	Event  string          `json:"event"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// DiagnosticKind classifies free-text engine output demuxed from the channel.
type DiagnosticKind string

const (
	DiagnosticDebug      DiagnosticKind = "debug"
	DiagnosticWarn       DiagnosticKind = "warn"
	DiagnosticError      DiagnosticKind = "error"
	DiagnosticDump       DiagnosticKind = "dump"
	DiagnosticUnexpected DiagnosticKind = "unexpected"
)

// Diagnostic carries engine log/dump traffic that has no entity target.
type Diagnostic struct {
	Kind DiagnosticKind
	Text string
	Raw  []byte
}

// inboundProbe sniffs which envelope kind a JSON frame carries: a correlation
// id marks a response, an event tag marks a notification.
type inboundProbe struct {
	ID    *uint64 `json:"id"`
	Event *string `json:"event"`
}

// decodeDiagnostic maps a non-JSON frame to the diagnostic stream. The engine
// tags log lines with a leading severity byte; anything untaggable is raw.
func decodeDiagnostic(frame []byte) Diagnostic {
	if len(frame) > 1 {
		switch frame[0] {
		case 'D':
			return Diagnostic{Kind: DiagnosticDebug, Text: string(frame[1:])}
		case 'W':
			return Diagnostic{Kind: DiagnosticWarn, Text: string(frame[1:])}
		case 'E':
			return Diagnostic{Kind: DiagnosticError, Text: string(frame[1:])}
		case 'X':
			return Diagnostic{Kind: DiagnosticDump, Text: string(frame[1:])}
		}
	}
	return Diagnostic{Kind: DiagnosticUnexpected, Raw: frame}
}
