// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects an entry of Config.Environments.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendHTTP   = "http"
	BackendMatrix = "matrix"
	BackendFile   = "file"
)

// Config is the complete kvrtc configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Store     StoreConfig     `yaml:"store"`
	Signaling SignalingConfig `yaml:"signaling"`
	ICE       ICEConfig       `yaml:"ice"`
	Gathering GatheringConfig `yaml:"gathering"`
	SDP       SDPConfig       `yaml:"sdp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Media     MediaConfig     `yaml:"media"`

	// Environments holds partial configs decoded over the base values
	// when their key matches Environment.
	Environments map[Environment]yaml.Node `yaml:"environments,omitempty"`
}

// StoreConfig selects and addresses the shared key-value store.
type StoreConfig struct {
	// Backend is one of memory, http, matrix, or file.
	Backend string `yaml:"backend"`

	// URL is the key-value service base URL (http) or the homeserver
	// URL (matrix).
	URL string `yaml:"url"`

	// Token is sent as a bearer token by the http and matrix backends.
	Token string `yaml:"token"`

	// Room is the Matrix room whose state holds the records.
	Room string `yaml:"room"`

	// Path is the file backend's data file.
	Path string `yaml:"path"`
}

// SignalingConfig tunes polling and publishing.
type SignalingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// WaitRetries and WaitDelay bound one-shot waits for a key.
	WaitRetries int           `yaml:"wait_retries"`
	WaitDelay   time.Duration `yaml:"wait_delay"`

	// PublishAttempts bounds store writes of a finalized description.
	PublishAttempts int           `yaml:"publish_attempts"`
	PublishDelay    time.Duration `yaml:"publish_delay"`

	// Compression wraps published records: none, zstd, or lz4.
	Compression string `yaml:"compression"`
}

// ICEConfig lists STUN and TURN servers.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// GatheringConfig bounds candidate gathering.
type GatheringConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SDPConfig drives the offer rewrite.
type SDPConfig struct {
	Codec          string `yaml:"codec"`
	BandwidthKbps  int    `yaml:"bandwidth_kbps"`
	MaxFrameSize   int    `yaml:"max_frame_size"`
	MaxFrameRate   int    `yaml:"max_frame_rate"`
	MinBitrateKbps int    `yaml:"min_bitrate_kbps"`
	MaxBitrateKbps int    `yaml:"max_bitrate_kbps"`

	// Disabled publishes offers exactly as the transport generated them.
	Disabled bool `yaml:"disabled"`
}

// TelemetryConfig configures the bitrate sampler.
type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`

	// MetricsAddr, when set, serves Prometheus metrics at /metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// MediaConfig names the local source and the incoming sink.
type MediaConfig struct {
	// Source is a pre-recorded .h264 or .ivf file played by the sender.
	Source string `yaml:"source"`

	// CameraDevice yields Annex-B H.264 when the sender uses a camera
	// (a capture device node or a FIFO fed by an encoder).
	CameraDevice string `yaml:"camera_device"`

	FrameRate int `yaml:"frame_rate"`

	// Output receives the incoming stream. Empty drains it.
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "${HOME}/.cache/kvrtc/store.cbor",
		},
		Signaling: SignalingConfig{
			PollInterval:    time.Second,
			WaitRetries:     10,
			WaitDelay:       10 * time.Second,
			PublishAttempts: 3,
			PublishDelay:    time.Second,
			Compression:     "none",
		},
		ICE: ICEConfig{
			Servers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		Gathering: GatheringConfig{Timeout: 10 * time.Second},
		SDP: SDPConfig{
			Codec:          "H264",
			BandwidthKbps:  5000,
			MaxFrameSize:   8160,
			MaxFrameRate:   30,
			MinBitrateKbps: 3000,
			MaxBitrateKbps: 5000,
		},
		Telemetry: TelemetryConfig{Interval: time.Second},
		Media:     MediaConfig{CameraDevice: "/dev/video0", FrameRate: 30},
	}
}

// Load reads the file named by KVRTC_CONFIG, or returns the defaults
// when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("KVRTC_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, applies the matching
// environment entry, and expands variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironment() error {
	node, ok := c.Environments[c.Environment]
	if !ok {
		return nil
	}
	// Decoding onto the populated struct only touches named fields.
	if err := node.Decode(c); err != nil {
		return fmt.Errorf("applying %s environment: %w", c.Environment, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Store.URL,
		&c.Store.Token,
		&c.Store.Room,
		&c.Store.Path,
		&c.Media.Source,
		&c.Media.CameraDevice,
		&c.Media.Output,
		&c.Telemetry.MetricsAddr,
	} {
		*field = expandVars(*field)
	}
	for i := range c.ICE.Servers {
		c.ICE.Servers[i].Username = expandVars(c.ICE.Servers[i].Username)
		c.ICE.Servers[i].Credential = expandVars(c.ICE.Servers[i].Credential)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default} from the process
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	backends := []string{BackendMemory, BackendHTTP, BackendMatrix, BackendFile}
	if !slices.Contains(backends, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend must be one of: %v", backends))
	}
	switch c.Store.Backend {
	case BackendHTTP:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the http backend"))
		}
	case BackendMatrix:
		if c.Store.URL == "" || c.Store.Room == "" || c.Store.Token == "" {
			errs = append(errs, errors.New("store.url, store.room, and store.token are required for the matrix backend"))
		}
	case BackendFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file backend"))
		}
	}

	if c.Signaling.PollInterval <= 0 {
		errs = append(errs, errors.New("signaling.poll_interval must be positive"))
	}
	if c.Signaling.WaitRetries < 1 {
		errs = append(errs, errors.New("signaling.wait_retries must be at least 1"))
	}
	if c.Signaling.PublishAttempts < 1 {
		errs = append(errs, errors.New("signaling.publish_attempts must be at least 1"))
	}
	compressions := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressions, c.Signaling.Compression) {
		errs = append(errs, fmt.Errorf("signaling.compression must be one of: %v", compressions))
	}

	if c.Gathering.Timeout <= 0 {
		errs = append(errs, errors.New("gathering.timeout must be positive"))
	}
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}
	if c.SDP.MinBitrateKbps > 0 && c.SDP.MaxBitrateKbps > 0 && c.SDP.MinBitrateKbps > c.SDP.MaxBitrateKbps {
		errs = append(errs, errors.New("sdp.min_bitrate_kbps exceeds sdp.max_bitrate_kbps"))
	}
	if c.Media.FrameRate <= 0 {
		errs = append(errs, errors.New("media.frame_rate must be positive"))
	}
	for i, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d] has no urls", i))
		}
	}

	return errors.Join(errs...)
}
