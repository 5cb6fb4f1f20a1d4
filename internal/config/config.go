// Package config loads the renderer configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

// Engine names.
const (
	EngineMPV = "mpv"
	EngineMPD = "mpd"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Network NetworkConfig `yaml:"network"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

type DeviceConfig struct {
	Name         string `yaml:"name"`
	UUID         string `yaml:"uuid"`
	Manufacturer string `yaml:"manufacturer"`
	ModelName    string `yaml:"model_name"`
	ModelNumber  string `yaml:"model_number"`
	SerialNumber string `yaml:"serial_number"`
	// StateFile keeps the generated UUID when none is configured.
	StateFile string `yaml:"state_file"`
}

type NetworkConfig struct {
	Interface        string `yaml:"interface"`
	HTTPPort         int    `yaml:"http_port"`
	AnnounceInterval int    `yaml:"announce_interval"` // seconds
	MaxAge           int    `yaml:"max_age"`           // seconds
	MDNS             bool   `yaml:"mdns"`
}

type AudioConfig struct {
	Engine          string `yaml:"engine"`
	MPVBinary       string `yaml:"mpv_binary"`
	MPVSocket       string `yaml:"mpv_ipc_socket"`
	OutputDriver    string `yaml:"output_driver"`
	DefaultVolume   int    `yaml:"default_volume"`
	Cache           bool   `yaml:"cache"`
	DemuxerMaxBytes string `yaml:"demuxer_max_bytes"`
	MPDHost         string `yaml:"mpd_host"`
	MPDPort         int    `yaml:"mpd_port"`
	MPDPassword     string `yaml:"mpd_password"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Manufacturer: "Stellar",
			ModelName:    "Stellar Renderer",
			ModelNumber:  "1.0",
			StateFile:    "/var/lib/stellar-renderer/device.json",
		},
		Network: NetworkConfig{
			Interface:        "eth0",
			HTTPPort:         8000,
			AnnounceInterval: 30,
			MaxAge:           1800,
		},
		Audio: AudioConfig{
			Engine:          EngineMPV,
			MPVBinary:       "mpv",
			MPVSocket:       "/tmp/mpv-socket",
			OutputDriver:    "alsa",
			DefaultVolume:   50,
			Cache:           true,
			DemuxerMaxBytes: "2M",
			MPDHost:         "localhost",
			MPDPort:         6600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects values the renderer cannot start with.
func (c *Config) Validate() error {
	if c.Network.HTTPPort < 1 || c.Network.HTTPPort > 65535 {
		return fmt.Errorf("network.http_port %d out of range", c.Network.HTTPPort)
	}
	if c.Network.AnnounceInterval < 1 {
		return fmt.Errorf("network.announce_interval must be positive")
	}
	if c.Network.MaxAge < c.Network.AnnounceInterval {
		return fmt.Errorf("network.max_age %d shorter than announce_interval %d", c.Network.MaxAge, c.Network.AnnounceInterval)
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 100 {
		return fmt.Errorf("audio.default_volume %d outside 0-100", c.Audio.DefaultVolume)
	}

	switch c.Audio.Engine {
	case EngineMPV:
		if c.Audio.MPVSocket == "" {
			return fmt.Errorf("audio.mpv_ipc_socket is required")
		}
	case EngineMPD:
		if c.Audio.MPDPort < 1 || c.Audio.MPDPort > 65535 {
			return fmt.Errorf("audio.mpd_port %d out of range", c.Audio.MPDPort)
		}
	default:
		return fmt.Errorf("unknown audio.engine %q", c.Audio.Engine)
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// AnnounceEvery returns the announce interval as a duration.
func (n NetworkConfig) AnnounceEvery() time.Duration {
	return time.Duration(n.AnnounceInterval) * time.Second
}
