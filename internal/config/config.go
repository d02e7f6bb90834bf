package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// AnalysisConfig holds the per-capture analysis parameters.
type AnalysisConfig struct {
	// TargetIP restricts analysis to packets destined to this address. Empty disables the filter.
	TargetIP       string   `yaml:"target_ip"`
	PayloadLabels  []string `yaml:"payload_labels"`
	NumWorkers     int      `yaml:"num_workers"`
	SizeOfChannel  int      `yaml:"size_of_packet_channel"`
	MaxStreamBytes int      `yaml:"max_stream_bytes"`
	UploadDir      string   `yaml:"upload_dir"`
	ReportDir      string   `yaml:"report_dir"`
}

// ProtocolDef describes one extra or overriding protocol filter label.
type ProtocolDef struct {
	Transport string   `yaml:"transport"`
	Ports     []uint16 `yaml:"ports"`
}

// RulesConfig carries extra signature patterns appended to the built-in ones.
type RulesConfig struct {
	ExtraSQLInjection []string `yaml:"extra_sql_injection"`
	ExtraFileUpload   []string `yaml:"extra_file_upload"`
}

// ThresholdsConfig holds the volumetric detector thresholds.
type ThresholdsConfig struct {
	TimeWindow       string `yaml:"time_window"`
	WindowMode       string `yaml:"window_mode"` // "capture" or "sliding"
	SynThreshold     int    `yaml:"syn_threshold"`
	UDPThreshold     int    `yaml:"udp_threshold"`
	RequestThreshold int    `yaml:"request_threshold"`
}

// Window parses TimeWindow.
func (t ThresholdsConfig) Window() (time.Duration, error) {
	d, err := time.ParseDuration(t.TimeWindow)
	if err != nil {
		return 0, fmt.Errorf("invalid time_window: %w", err)
	}
	return d, nil
}

// ClickHouseConfig holds the connection details for the ClickHouse sink.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// RedisConfig holds the connection details for the Redis sink.
type RedisConfig struct {
	URL          string `yaml:"url"`
	Queue        string `yaml:"queue"`
	CounterKey   string `yaml:"counter_key"`
	BlacklistMin int64  `yaml:"blacklist_min"`
}

// NATSSinkConfig controls alert publishing over NATS.
type NATSSinkConfig struct {
	SubjectPrefix string `yaml:"subject_prefix"`
	Encoding      string `yaml:"encoding"` // "json" or "proto"
}

// SinkDef declares one alert sink.
type SinkDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSSinkConfig   `yaml:"nats"`
	Capacity   int              `yaml:"capacity"`
}

// SMTPConfig holds the configuration for the SMTP notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// WebhookConfig holds the configuration for the webhook notifier.
type WebhookConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// NotificationConfig controls the asynchronous alert notification queue.
type NotificationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	NumWorkers int           `yaml:"num_workers"`
	QueueSize  int           `yaml:"queue_size"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	Burst      int           `yaml:"burst"`
	SMTP       SMTPConfig    `yaml:"smtp"`
	Webhook    WebhookConfig `yaml:"webhook"`
}

// NATSConfig holds the shared NATS connection settings.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
}

// ProbeConfig holds the live-capture settings.
type ProbeConfig struct {
	Interface     string `yaml:"interface"`
	SnapLen       int32  `yaml:"snap_len"`
	Promiscuous   bool   `yaml:"promiscuous"`
	BPFFilter     string `yaml:"bpf_filter"`
	OutputDir     string `yaml:"output_dir"`
	DrainInterval string `yaml:"drain_interval"`
	Subject       string `yaml:"subject"`
}

// APIConfig holds the HTTP and gRPC listener settings.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging      LoggingConfig          `yaml:"logging"`
	Analysis     AnalysisConfig         `yaml:"analysis"`
	Protocols    map[string]ProtocolDef `yaml:"protocols"`
	Rules        RulesConfig            `yaml:"rules"`
	Thresholds   ThresholdsConfig       `yaml:"thresholds"`
	Sinks        []SinkDef              `yaml:"sinks"`
	Notification NotificationConfig     `yaml:"notification"`
	NATS         NATSConfig             `yaml:"nats"`
	Probe        ProbeConfig            `yaml:"probe"`
	API          APIConfig              `yaml:"api"`
}

// DefaultConfig returns a configuration with every field set to a usable value.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Analysis: AnalysisConfig{
			PayloadLabels: []string{"HTTP", "HTTPS"},
			NumWorkers:    4,
			SizeOfChannel: 1024,
			UploadDir:     "uploads",
			ReportDir:     "",
		},
		Thresholds: ThresholdsConfig{
			TimeWindow:       "10s",
			WindowMode:       "capture",
			SynThreshold:     1000,
			UDPThreshold:     5000,
			RequestThreshold: 100,
		},
		Sinks: []SinkDef{{Type: "log", Enabled: true}},
		Notification: NotificationConfig{
			NumWorkers: 2,
			QueueSize:  256,
			RatePerSec: 5,
			Burst:      10,
		},
		NATS: NATSConfig{URL: "nats://127.0.0.1:4222", Port: 4222},
		Probe: ProbeConfig{
			SnapLen:       1600,
			Promiscuous:   true,
			OutputDir:     "captures",
			DrainInterval: "30s",
			Subject:       "pcapsentry.captures",
		},
		API: APIConfig{
			ListenAddr:     ":8080",
			GRPCListenAddr: ":9090",
			MaxUploadBytes: 256 << 20,
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of DefaultConfig.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SinkEnabled reports whether an enabled sink of the given type is configured.
func (c *Config) SinkEnabled(sinkType string) bool {
	for _, s := range c.Sinks {
		if s.Enabled && strings.EqualFold(s.Type, sinkType) {
			return true
		}
	}
	return false
}

// Validate checks the fields that cannot be defaulted silently.
func (c *Config) Validate() error {
	if _, err := c.Thresholds.Window(); err != nil {
		return err
	}
	switch c.Thresholds.WindowMode {
	case "capture", "sliding":
	default:
		return fmt.Errorf("window_mode must be 'capture' or 'sliding', got %q", c.Thresholds.WindowMode)
	}
	if c.Thresholds.SynThreshold < 0 || c.Thresholds.UDPThreshold < 0 || c.Thresholds.RequestThreshold < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if c.Analysis.NumWorkers <= 0 {
		return fmt.Errorf("analysis.num_workers must be positive")
	}
	for name, def := range c.Protocols {
		if !strings.EqualFold(def.Transport, "TCP") && !strings.EqualFold(def.Transport, "UDP") {
			return fmt.Errorf("protocol %q: transport must be TCP or UDP", name)
		}
	}
	if _, err := time.ParseDuration(c.Probe.DrainInterval); err != nil {
		return fmt.Errorf("invalid probe.drain_interval: %w", err)
	}
	return nil
}
