package engine

import (
	"errors"
	"fmt"
	"strings"
)

// LogLevel controls logging inside the engine process.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelNone  LogLevel = "none"
)

// LogTag selects one engine debugging topic.
type LogTag string

const (
	LogTagInfo      LogTag = "info"
	LogTagICE       LogTag = "ice"
	LogTagDTLS      LogTag = "dtls"
	LogTagRTP       LogTag = "rtp"
	LogTagSRTP      LogTag = "srtp"
	LogTagRTCP      LogTag = "rtcp"
	LogTagRTX       LogTag = "rtx"
	LogTagBWE       LogTag = "bwe"
	LogTagScore     LogTag = "score"
	LogTagSimulcast LogTag = "simulcast"
	LogTagSVC       LogTag = "svc"
	LogTagSCTP      LogTag = "sctp"
	LogTagMessage   LogTag = "message"
)

var (
	ErrInvalidPortRange = errors.New("engine: rtc ports range is empty")
	ErrInvalidDTLSFiles = errors.New("engine: dtls certificate and private key must both be set")
	ErrInvalidLogLevel  = errors.New("engine: invalid log level")
	ErrInvalidLogTag    = errors.New("engine: invalid log tag")
)

// DTLSFiles points at a PEM certificate/key pair for the engine. When unset,
// the engine generates a certificate dynamically.
type DTLSFiles struct {
	CertificatePath string
	PrivateKeyPath  string
}

// Settings configures one engine instance at spawn time.
type Settings struct {
	LogLevel             LogLevel
	LogTags              []LogTag
	RTCMinPort           uint16
	RTCMaxPort           uint16
	DTLS                 *DTLSFiles
	LibwebrtcFieldTrials string
}

func DefaultSettings() Settings {
	return Settings{
		LogLevel: LogLevelDebug,
		LogTags: []LogTag{
			LogTagInfo, LogTagICE, LogTagDTLS, LogTagRTP, LogTagSRTP,
			LogTagRTCP, LogTagRTX, LogTagBWE, LogTagScore, LogTagSimulcast,
			LogTagSVC, LogTagSCTP, LogTagMessage,
		},
		RTCMinPort: 10000,
		RTCMaxPort: 59999,
	}
}

func (s Settings) Validate() error {
	switch s.LogLevel {
	case LogLevelDebug, LogLevelWarn, LogLevelError, LogLevelNone:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, s.LogLevel)
	}
	for _, tag := range s.LogTags {
		switch tag {
		case LogTagInfo, LogTagICE, LogTagDTLS, LogTagRTP, LogTagSRTP,
			LogTagRTCP, LogTagRTX, LogTagBWE, LogTagScore, LogTagSimulcast,
			LogTagSVC, LogTagSCTP, LogTagMessage:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidLogTag, tag)
		}
	}
	if s.RTCMinPort > s.RTCMaxPort {
		return fmt.Errorf("%w: %d..%d", ErrInvalidPortRange, s.RTCMinPort, s.RTCMaxPort)
	}
	if s.DTLS != nil {
		if strings.TrimSpace(s.DTLS.CertificatePath) == "" || strings.TrimSpace(s.DTLS.PrivateKeyPath) == "" {
			return ErrInvalidDTLSFiles
		}
	}
	return nil
}

// Args serializes settings into the engine's invocation arguments.
func Args(s Settings) []string {
	args := []string{
		fmt.Sprintf("--logLevel=%s", s.LogLevel),
	}
	for _, tag := range s.LogTags {
		args = append(args, fmt.Sprintf("--logTag=%s", tag))
	}
	args = append(args,
		fmt.Sprintf("--rtcMinPort=%d", s.RTCMinPort),
		fmt.Sprintf("--rtcMaxPort=%d", s.RTCMaxPort),
	)
	if s.DTLS != nil {
		args = append(args,
			fmt.Sprintf("--dtlsCertificateFile=%s", s.DTLS.CertificatePath),
			fmt.Sprintf("--dtlsPrivateKeyFile=%s", s.DTLS.PrivateKeyPath),
		)
	}
	if s.LibwebrtcFieldTrials != "" {
		args = append(args, fmt.Sprintf("--libwebrtcFieldTrials=%s", s.LibwebrtcFieldTrials))
	}
	return args
}
