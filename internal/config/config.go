package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/mediactl/engine"
	"github.com/danmuck/mediactl/worker"
)

// ServiceConfig configures the mediactl supervisor runtime.
type ServiceConfig struct {
	EngineBinary    string   `toml:"engine_binary"`
	LogLevel        string   `toml:"log_level"`
	LogTags         []string `toml:"log_tags"`
	RTCMinPort      uint16   `toml:"rtc_min_port"`
	RTCMaxPort      uint16   `toml:"rtc_max_port"`
	DTLSCertFile    string   `toml:"dtls_certificate_file"`
	DTLSKeyFile     string   `toml:"dtls_private_key_file"`
	FieldTrials     string   `toml:"libwebrtc_field_trials"`
	AdminListenAddr string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
}

func DefaultServiceConfig() ServiceConfig {
	defaults := engine.DefaultSettings()
	return ServiceConfig{
		LogLevel:        string(defaults.LogLevel),
		RTCMinPort:      defaults.RTCMinPort,
		RTCMaxPort:      defaults.RTCMaxPort,
		AdminListenAddr: ":9400",
	}
}

func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServiceConfig{}, err
	}
	if err := ValidateServiceConfig(cfg); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

func ValidateServiceConfig(cfg ServiceConfig) error {
	if strings.TrimSpace(cfg.EngineBinary) == "" {
		return fmt.Errorf("config: engine_binary is required")
	}
	_, err := cfg.WorkerSettings()
	return err
}

// WorkerSettings converts the file shape into worker settings.
func (cfg ServiceConfig) WorkerSettings() (worker.Settings, error) {
	settings := worker.DefaultSettings()
	settings.BinaryPath = cfg.EngineBinary
	settings.LogLevel = engine.LogLevel(cfg.LogLevel)
	if len(cfg.LogTags) > 0 {
		tags := make([]engine.LogTag, 0, len(cfg.LogTags))
		for _, tag := range cfg.LogTags {
			tags = append(tags, engine.LogTag(tag))
		}
		settings.LogTags = tags
	}
	settings.RTCMinPort = cfg.RTCMinPort
	settings.RTCMaxPort = cfg.RTCMaxPort
	if cfg.DTLSCertFile != "" || cfg.DTLSKeyFile != "" {
		settings.DTLS = &engine.DTLSFiles{
			CertificatePath: cfg.DTLSCertFile,
			PrivateKeyPath:  cfg.DTLSKeyFile,
		}
	}
	settings.LibwebrtcFieldTrials = cfg.FieldTrials
	if err := settings.Settings.Validate(); err != nil {
		return worker.Settings{}, err
	}
	return settings, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
