package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the settings of the ingestion facade and flow table.
type EngineConfig struct {
	NumWorkers          int      `yaml:"num_workers"`
	NumShards           uint32   `yaml:"num_shards"`
	SizeOfPacketChannel int      `yaml:"size_of_packet_channel"`
	FlowTimeout         string   `yaml:"flow_timeout"`
	ReapInterval        string   `yaml:"reap_interval"`
	MinSegmentSize      int      `yaml:"min_segment_size"`
	ByteOrder           string   `yaml:"byte_order"`
	UplinkNetworks      []string `yaml:"uplink_networks"`
}

// SinksConfig names the output file of each log channel. Empty disables a channel.
type SinksConfig struct {
	TCPTermination string `yaml:"tcp_termination"`
	FlashVideo     string `yaml:"flash_video"`
	HTTPPage       string `yaml:"http_page"`
	HTTPRequest    string `yaml:"http_request"`
}

// ClickHouseConfig holds the connection settings for the ClickHouse writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines one status writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	RootPath         string           `yaml:"root_path"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// ProbeConfig holds the NATS settings for the observation event stream.
type ProbeConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the listen addresses of the status and health servers.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine  EngineConfig `yaml:"engine"`
	Sinks   SinksConfig  `yaml:"sinks"`
	Writers []WriterDef  `yaml:"writers"`
	Probe   ProbeConfig  `yaml:"probe"`
	API     APIConfig    `yaml:"api"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			NumWorkers:          4,
			NumShards:           256,
			SizeOfPacketChannel: 1024,
			FlowTimeout:         "120s",
			ReapInterval:        "10s",
			ByteOrder:           "host",
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "streamcoverage.observations",
		},
		API: APIConfig{
			ListenAddr:     ":8080",
			GRPCListenAddr: ":9090",
		},
	}
}

// LoadConfig reads the configuration from filePath. Files ending in .yaml or
// .yml are parsed as YAML; anything else is read as "key = value;" directives.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	default:
		directives, err := ParseDirectives(strings.NewReader(string(data)))
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(directives); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by unmarshalling.
func (c *Config) Validate() error {
	if _, err := c.Engine.Timeout(); err != nil {
		return err
	}
	if _, err := c.Engine.Reap(); err != nil {
		return err
	}
	if _, err := c.Engine.Networks(); err != nil {
		return err
	}
	switch c.Engine.ByteOrder {
	case "host", "little", "big":
	default:
		return fmt.Errorf("invalid byte_order %q: want host, little or big", c.Engine.ByteOrder)
	}
	if c.Engine.MinSegmentSize < 0 {
		return fmt.Errorf("min_segment_size must not be negative")
	}
	return nil
}

// Timeout returns the parsed flow timeout.
func (e EngineConfig) Timeout() (time.Duration, error) {
	return positiveDuration("flow_timeout", e.FlowTimeout)
}

// Reap returns the parsed reap interval.
func (e EngineConfig) Reap() (time.Duration, error) {
	return positiveDuration("reap_interval", e.ReapInterval)
}

// Networks parses the uplink CIDRs.
func (e EngineConfig) Networks() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(e.UplinkNetworks))
	for _, s := range e.UplinkNetworks {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uplink network %q: %w", s, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func positiveDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}
