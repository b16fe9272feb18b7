// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "5s", "10s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds the agent and central server configuration.
type Config struct {
	// StationID identifies this monitoring station to the central server.
	StationID string `yaml:"station_id"`

	Unit     UnitConfig     `yaml:"unit"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Flags    FlagsConfig    `yaml:"flags"`
	Upload   UploadConfig   `yaml:"upload"`
	Relay    RelayConfig    `yaml:"relay"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// UnitConfig holds the SSH connection to the monitored unit and the
// remote log locations.
type UnitConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	KeyFile      string   `yaml:"key_file"`
	KnownHosts   string   `yaml:"known_hosts"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	RXPath       string   `yaml:"rx_path"`
	TXPath       string   `yaml:"tx_path"`
	SizeCommands []string `yaml:"size_commands"`
}

// MonitorConfig holds poll timing and detector thresholds.
type MonitorConfig struct {
	Interval        Duration `yaml:"interval"`
	ReconnectDelay  Duration `yaml:"reconnect_delay"`
	StallThreshold  int      `yaml:"stall_threshold"`
	ResumeThreshold int      `yaml:"resume_threshold"`
	HaltThreshold   int      `yaml:"halt_threshold"`
}

// SnapshotConfig holds local capture locations.
type SnapshotConfig struct {
	Dir       string `yaml:"dir"`
	CacheFile string `yaml:"cache_file"`
}

// FlagsConfig holds the flag directory and the optional MQTT mirror.
type FlagsConfig struct {
	Dir  string     `yaml:"dir"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds MQTT broker settings for flag events.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// UploadConfig holds snapshot upload settings.
type UploadConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Interval   Duration `yaml:"interval"`
	LedgerPath string   `yaml:"ledger_path"`
}

// RelayConfig holds operator-message relay settings.
type RelayConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Interval      Duration `yaml:"interval"`
	Target        string   `yaml:"target"`
	RatePerMinute int      `yaml:"rate_per_minute"`
}

// ServerConfig holds the central server address used by the agent and the
// listener settings used by the server binary.
type ServerConfig struct {
	URL       string `yaml:"url"`
	Listen    string `yaml:"listen"`
	UploadDir string `yaml:"upload_dir"`
	DBPath    string `yaml:"db_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Unit: UnitConfig{
			Host:        "192.168.52.79",
			Port:        22,
			User:        "user",
			DialTimeout: Duration{10 * time.Second},
			RXPath:      "/mnt/rw/log/current/rx_pc5.pcap",
			TXPath:      "/mnt/rw/log/current/tx_pc5.pcap",
		},
		Monitor: MonitorConfig{
			Interval:        Duration{10 * time.Second},
			ReconnectDelay:  Duration{10 * time.Second},
			StallThreshold:  2,
			ResumeThreshold: 2,
			HaltThreshold:   4,
		},
		Snapshot: SnapshotConfig{
			Dir:       "./selective_tx_snapshots",
			CacheFile: "./selective_tx_snapshots/tx_pc5_full.pcap",
		},
		Flags: FlagsConfig{
			Dir: ".",
			MQTT: MQTTConfig{
				TopicPrefix: "obumon",
				QoS:         1,
			},
		},
		Upload: UploadConfig{
			Enabled:    true,
			Interval:   Duration{5 * time.Second},
			LedgerPath: "./uploaded.json",
		},
		Relay: RelayConfig{
			Enabled:       true,
			Interval:      Duration{10 * time.Second},
			Target:        "192.168.52.79:12345",
			RatePerMinute: 12,
		},
		Server: ServerConfig{
			URL:       "http://127.0.0.1:5000",
			Listen:    ":5000",
			UploadDir: "./uploaded_pcaps",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./obumon.log",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	if cfg.StationID == "" {
		cfg.StationID = DefaultStationID()
	}

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	Host      string
	ServerURL string
	StationID string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > YAML file > defaults.
//
// An optional configPath argument controls file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no file)
func LoadLayered(cli CLIOverrides, configPath ...string) (*Config, error) {
	var path string
	if len(configPath) > 0 {
		path = configPath[0]
	} else {
		path = Locate()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if cli.Host != "" {
		cfg.Unit.Host = cli.Host
	}
	if cli.ServerURL != "" {
		cfg.Server.URL = cli.ServerURL
	}
	if cli.StationID != "" {
		cfg.StationID = cli.StationID
	}
	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// DefaultStationID returns the host name, or "Unknown_Laptop" when it
// cannot be determined.
func DefaultStationID() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "Unknown_Laptop"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBUMON_HOST"); v != "" {
		cfg.Unit.Host = v
	}
	if v := os.Getenv("OBUMON_USER"); v != "" {
		cfg.Unit.User = v
	}
	if v := os.Getenv("OBUMON_PASSWORD"); v != "" {
		cfg.Unit.Password = v
	}
	if v := os.Getenv("OBUMON_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("OBUMON_STATION_ID"); v != "" {
		cfg.StationID = v
	}
	if v := os.Getenv("OBUMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the settings the agent subsystems depend on.
func (c *Config) Validate() error {
	if c.Unit.Host == "" {
		return fmt.Errorf("unit host is required")
	}
	if c.Unit.User == "" {
		return fmt.Errorf("unit user is required")
	}
	if c.Unit.Password == "" && c.Unit.KeyFile == "" {
		return fmt.Errorf("unit password or key_file is required")
	}
	if c.Unit.RXPath == "" || c.Unit.TXPath == "" {
		return fmt.Errorf("unit rx_path and tx_path are required")
	}
	if c.Monitor.Interval.Duration <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.ReconnectDelay.Duration <= 0 {
		return fmt.Errorf("monitor reconnect_delay must be positive")
	}
	if c.Monitor.StallThreshold < 1 || c.Monitor.ResumeThreshold < 1 || c.Monitor.HaltThreshold < 1 {
		return fmt.Errorf("monitor thresholds must be at least 1")
	}
	if c.Snapshot.Dir == "" || c.Snapshot.CacheFile == "" {
		return fmt.Errorf("snapshot dir and cache_file are required")
	}
	if strings.HasPrefix(filepath.Base(c.Snapshot.CacheFile), "tx_clean_") {
		return fmt.Errorf("snapshot cache_file must not use the tx_clean_ prefix")
	}
	if c.Flags.MQTT.Enabled && c.Flags.MQTT.Broker == "" {
		return fmt.Errorf("flags mqtt broker is required when mqtt is enabled")
	}
	if c.Upload.Enabled || c.Relay.Enabled {
		if err := validateURL(c.Server.URL); err != nil {
			return err
		}
	}
	if c.Relay.Enabled {
		if _, _, err := net.SplitHostPort(c.Relay.Target); err != nil {
			return fmt.Errorf("relay target %q: %w", c.Relay.Target, err)
		}
	}
	return nil
}

// ValidateServer checks the settings the central server depends on.
func (c *Config) ValidateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Server.UploadDir == "" {
		return fmt.Errorf("server upload_dir is required")
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https (got: %s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL has no host (got: %s)", raw)
	}
	return nil
}
