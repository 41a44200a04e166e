package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/mediactl/engine"
	"github.com/danmuck/mediactl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediactl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServiceConfig(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
engine_binary = "/usr/local/bin/media-engine"
log_level = "warn"
log_tags = ["info", "ice"]
rtc_min_port = 40000
rtc_max_port = 40999
libwebrtc_field_trials = "WebRTC-Bwe-AlrLimitedBackoff/Enabled/"
admin_addr = "127.0.0.1:9500"
cors_origins = ["https://ops.example.com"]
`)

	cfg, err := LoadServiceConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/usr/local/bin/media-engine", cfg.EngineBinary)
	require.Equal(t, "127.0.0.1:9500", cfg.AdminListenAddr)
	require.Equal(t, []string{"https://ops.example.com"}, cfg.CorsOrigins)

	settings, err := cfg.WorkerSettings()
	require.NoError(t, err)
	require.Equal(t, engine.LogLevelWarn, settings.LogLevel)
	require.Equal(t, []engine.LogTag{engine.LogTagInfo, engine.LogTagICE}, settings.LogTags)
	require.Equal(t, uint16(40000), settings.RTCMinPort)
	require.Equal(t, uint16(40999), settings.RTCMaxPort)
	require.Equal(t, "WebRTC-Bwe-AlrLimitedBackoff/Enabled/", settings.LibwebrtcFieldTrials)
	require.Nil(t, settings.DTLS)
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `engine_binary = "/opt/engine"`)

	cfg, err := LoadServiceConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9400", cfg.AdminListenAddr)

	settings, err := cfg.WorkerSettings()
	require.NoError(t, err)
	defaults := engine.DefaultSettings()
	require.Equal(t, defaults.LogLevel, settings.LogLevel)
	require.Equal(t, defaults.RTCMinPort, settings.RTCMinPort)
	require.Equal(t, defaults.RTCMaxPort, settings.RTCMaxPort)
}

func TestLoadServiceConfigMissingBinary(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `log_level = "debug"`)
	_, err := LoadServiceConfig(path)
	require.ErrorContains(t, err, "engine_binary")
}

func TestLoadServiceConfigRejectsBadSettings(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
engine_binary = "/opt/engine"
rtc_min_port = 50000
rtc_max_port = 40000
`)
	_, err := LoadServiceConfig(path)
	require.ErrorIs(t, err, engine.ErrInvalidPortRange)
}

func TestLoadServiceConfigDTLSPair(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
engine_binary = "/opt/engine"
dtls_certificate_file = "/etc/mediactl/cert.pem"
`)
	_, err := LoadServiceConfig(path)
	require.ErrorIs(t, err, engine.ErrInvalidDTLSFiles)
}

func TestLoadServiceConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
