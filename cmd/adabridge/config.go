package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the adabridge daemon.
//
// Layering: DefaultConfig -> config file (YAML, or TOML by extension, with
// ${VAR} expansion) -> flag overrides -> Validate.
type Config struct {
	Identity IdentityConfig `yaml:"identity" toml:"identity"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Status   StatusConfig   `yaml:"status" toml:"status"`
	Audio    AudioConfig    `yaml:"audio" toml:"audio"`
	Media    MediaConfig    `yaml:"media" toml:"media"`
	Power    PowerConfig    `yaml:"power" toml:"power"`
	IPC      IPCConfig      `yaml:"ipc" toml:"ipc"`
	StateWS  StateWSConfig  `yaml:"state_ws" toml:"state_ws"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

type IdentityConfig struct {
	UserID       string `yaml:"user_id" toml:"user_id"`
	DeviceID     string `yaml:"device_id" toml:"device_id"`
	DeviceName   string `yaml:"device_name" toml:"device_name"`
	Manufacturer string `yaml:"manufacturer" toml:"manufacturer"`
	Model        string `yaml:"model" toml:"model"`
	HWVersion    string `yaml:"hw_version" toml:"hw_version"`
	SWVersion    string `yaml:"sw_version" toml:"sw_version"`
}

type MQTTConfig struct {
	Broker           string        `yaml:"broker" toml:"broker"`
	ClientID         string        `yaml:"client_id,omitempty" toml:"client_id,omitempty"` // empty: generated
	Username         string        `yaml:"username,omitempty" toml:"username,omitempty"`
	Password         string        `yaml:"password,omitempty" toml:"password,omitempty"`
	KeepAliveSec     int           `yaml:"keep_alive_sec" toml:"keep_alive_sec"`
	ConnectTimeoutMS int           `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	WriteTimeoutMS   int           `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
	TLS              MQTTTLSConfig `yaml:"tls" toml:"tls"`
}

type MQTTTLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty" toml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" toml:"insecure_skip_verify,omitempty"`
}

type StatusConfig struct {
	IntervalMS int `yaml:"interval_ms" toml:"interval_ms"`
}

type AudioConfig struct {
	Backend    string           `yaml:"backend" toml:"backend"` // pactl | camilladsp | memory
	Pactl      PactlConfig      `yaml:"pactl" toml:"pactl"`
	CamillaDSP CamillaDSPConfig `yaml:"camilladsp" toml:"camilladsp"`
}

type PactlConfig struct {
	Binary string `yaml:"binary" toml:"binary"`
	Sink   string `yaml:"sink" toml:"sink"`
}

type CamillaDSPConfig struct {
	WsURL     string  `yaml:"ws_url" toml:"ws_url"`
	TimeoutMS int     `yaml:"timeout_ms" toml:"timeout_ms"`
	MinDB     float64 `yaml:"min_db" toml:"min_db"`
	MaxDB     float64 `yaml:"max_db" toml:"max_db"`
}

type MediaConfig struct {
	Backend string      `yaml:"backend" toml:"backend"` // mpris | none
	MPRIS   MPRISConfig `yaml:"mpris" toml:"mpris"`
}

type MPRISConfig struct {
	Player string `yaml:"player,omitempty" toml:"player,omitempty"`
}

type PowerConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // logind | syscall | none
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path"` // empty disables IPC
}

type StateWSConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	Path       string `yaml:"path" toml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text | json
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			UserID:       defaultUserID,
			DeviceID:     defaultDeviceID,
			DeviceName:   defaultDeviceName,
			Manufacturer: defaultManufacturer,
			Model:        defaultModel,
			HWVersion:    defaultHWVersion,
			SWVersion:    defaultSWVersion,
		},
		MQTT: MQTTConfig{
			Broker:           defaultBroker,
			KeepAliveSec:     defaultKeepAliveSec,
			ConnectTimeoutMS: defaultConnectTimeoutMS,
			WriteTimeoutMS:   defaultWriteTimeoutMS,
		},
		Status: StatusConfig{
			IntervalMS: defaultStatusIntervalMS,
		},
		Audio: AudioConfig{
			Backend: "pactl",
			Pactl: PactlConfig{
				Binary: defaultPactlBinary,
				Sink:   defaultPactlSink,
			},
			CamillaDSP: CamillaDSPConfig{
				WsURL:     "ws://127.0.0.1:1234",
				TimeoutMS: defaultReadTimeoutMS,
				MinDB:     defaultCamillaMinDB,
				MaxDB:     defaultCamillaMaxDB,
			},
		},
		Media: MediaConfig{
			Backend: "mpris",
		},
		Power: PowerConfig{
			Backend: "logind",
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		StateWS: StateWSConfig{
			Enabled:    false,
			ListenAddr: defaultStateWSAddr,
			Path:       defaultStateWSPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath is ~/.config/adabridge/config.yaml (or the XDG equivalent).
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "adabridge", "config.yaml")
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment so they can
// be referenced from the config file. An empty path loads ./.env if present.
// Existing environment variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadConfigFile reads and parses a config file on top of the defaults.
//
// Notes:
//   - ${VAR} references are expanded from the environment before parsing.
//   - Files ending in .toml are parsed as TOML, everything else as YAML.
//   - Unknown fields are rejected (helps catch typos).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	b = []byte(os.ExpandEnv(string(b)))

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides carries values from command-line flags. Each override is only
// applied if its pointer is non-nil.
type FlagOverrides struct {
	UserID     *string
	DeviceID   *string
	DeviceName *string

	Broker   *string
	ClientID *string
	Username *string
	Password *string

	StatusIntervalMS *int

	AudioBackend *string
	MediaBackend *string
	PowerBackend *string

	IPCSocketPath *string

	StateWSEnabled *bool
	StateWSAddr    *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg. Non-nil pointers are applied even
// when they hold a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	set(&cfg.Identity.UserID, o.UserID)
	set(&cfg.Identity.DeviceID, o.DeviceID)
	set(&cfg.Identity.DeviceName, o.DeviceName)

	set(&cfg.MQTT.Broker, o.Broker)
	set(&cfg.MQTT.ClientID, o.ClientID)
	set(&cfg.MQTT.Username, o.Username)
	set(&cfg.MQTT.Password, o.Password)

	if o.StatusIntervalMS != nil {
		cfg.Status.IntervalMS = *o.StatusIntervalMS
	}

	set(&cfg.Audio.Backend, o.AudioBackend)
	set(&cfg.Media.Backend, o.MediaBackend)
	set(&cfg.Power.Backend, o.PowerBackend)

	set(&cfg.IPC.SocketPath, o.IPCSocketPath)

	if o.StateWSEnabled != nil {
		cfg.StateWS.Enabled = *o.StateWSEnabled
	}
	set(&cfg.StateWS.ListenAddr, o.StateWSAddr)

	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Format, o.LogFormat)
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if err := c.IdentityValue().Validate(); err != nil {
		return err
	}

	// MQTT
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty")
	}
	u, err := url.Parse(c.MQTT.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mqtt.broker must be a URL like tcp://host:1883, got %q", c.MQTT.Broker)
	}
	if c.MQTT.KeepAliveSec <= 0 {
		return errors.New("mqtt.keep_alive_sec must be > 0")
	}
	if c.MQTT.ConnectTimeoutMS <= 0 {
		return errors.New("mqtt.connect_timeout_ms must be > 0")
	}
	if c.MQTT.WriteTimeoutMS <= 0 {
		return errors.New("mqtt.write_timeout_ms must be > 0")
	}

	// Status
	if c.Status.IntervalMS <= 0 {
		return errors.New("status.interval_ms must be > 0")
	}

	// Audio
	switch c.Audio.Backend {
	case "pactl":
		if c.Audio.Pactl.Binary == "" {
			return errors.New("audio.pactl.binary must not be empty")
		}
		if c.Audio.Pactl.Sink == "" {
			return errors.New("audio.pactl.sink must not be empty")
		}
	case "camilladsp":
		if c.Audio.CamillaDSP.WsURL == "" {
			return errors.New("audio.camilladsp.ws_url must not be empty")
		}
		if c.Audio.CamillaDSP.TimeoutMS <= 0 {
			return errors.New("audio.camilladsp.timeout_ms must be > 0")
		}
		if c.Audio.CamillaDSP.MinDB >= c.Audio.CamillaDSP.MaxDB {
			return errors.New("audio.camilladsp.min_db must be < audio.camilladsp.max_db")
		}
	case "memory":
	default:
		return fmt.Errorf("audio.backend must be one of pactl, camilladsp, memory; got %q", c.Audio.Backend)
	}

	switch c.Media.Backend {
	case "mpris", "none":
	default:
		return fmt.Errorf("media.backend must be one of mpris, none; got %q", c.Media.Backend)
	}

	switch c.Power.Backend {
	case "logind", "syscall", "none":
	default:
		return fmt.Errorf("power.backend must be one of logind, syscall, none; got %q", c.Power.Backend)
	}

	// State websocket
	if c.StateWS.Enabled {
		if c.StateWS.ListenAddr == "" {
			return errors.New("state_ws.enabled is true but state_ws.listen_addr is empty")
		}
		if !strings.HasPrefix(c.StateWS.Path, "/") {
			return errors.New("state_ws.path must start with '/'")
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	return nil
}

// IdentityValue extracts the immutable identity.
func (c *Config) IdentityValue() Identity {
	return Identity{
		UserID:     c.Identity.UserID,
		DeviceID:   c.Identity.DeviceID,
		DeviceName: c.Identity.DeviceName,
	}
}

// DeviceInfo extracts the announcement's device info.
func (c *Config) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Manufacturer: c.Identity.Manufacturer,
		Model:        c.Identity.Model,
		HWVersion:    c.Identity.HWVersion,
		SWVersion:    c.Identity.SWVersion,
	}
}

// ResolveClientID fills an empty mqtt.client_id with a unique value so that
// two instances with the same device id don't kick each other off the broker.
func (c *Config) ResolveClientID() {
	if c.MQTT.ClientID != "" {
		return
	}
	c.MQTT.ClientID = fmt.Sprintf("adabridge-%s-%s", c.Identity.DeviceID, uuid.NewString()[:8])
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
