package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"

	DefaultPort           = 9031
	DefaultChannelPort    = 9032
	DefaultTimeoutSeconds = 3.0
	DefaultMsgBufferSize  = 4096
	DefaultMaxFrameSize   = 65536
	DefaultPollInterval   = 5.0
	DefaultMaxBackoff     = 60.0
	DefaultRecorderQueue  = 256
	DefaultMetricsListen  = "127.0.0.1:9109"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string    `json:"level"`
	Format    LogFormat `json:"format"`
	LogToFile bool      `json:"log_to_file"`
	FilePath  string    `json:"file_path"`
}

// ConnectionConfig addresses the instrument's CTI endpoint.
type ConnectionConfig struct {
	IPAddress     string  `json:"ip_address"`
	Port          int     `json:"port"`
	TimeoutS      float64 `json:"timeout_s"`
	MsgBufferSize int     `json:"msg_buffer_size"`
	MaxFrameSize  int     `json:"max_frame_size"`
}

// Timeout converts TimeoutS to a duration.
func (c ConnectionConfig) Timeout() time.Duration {
	return seconds(c.TimeoutS)
}

// ChannelConfig scopes channel-level operations to one channel.
type ChannelConfig struct {
	Channel      int    `json:"channel"`
	Port         int    `json:"port"`
	TestName     string `json:"test_name"`
	ScheduleName string `json:"schedule_name"`
}

// PollerConfig controls periodic channel status polling.
type PollerConfig struct {
	Channels    []int   `json:"channels"`
	IntervalS   float64 `json:"interval_s"`
	MaxBackoffS float64 `json:"max_backoff_s"`
}

func (c PollerConfig) Interval() time.Duration   { return seconds(c.IntervalS) }
func (c PollerConfig) MaxBackoff() time.Duration { return seconds(c.MaxBackoffS) }

// RecorderConfig controls the sqlite readings log.
type RecorderConfig struct {
	Enabled   bool   `json:"enabled"`
	DBPath    string `json:"db_path"`
	QueueSize int    `json:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// AlertsConfig stores operator notification preferences.
type AlertsConfig struct {
	Desktop         bool `json:"desktop"`
	OnFault         bool `json:"on_fault"`
	OnProtocolError bool `json:"on_protocol_error"`
	OnDisconnect    bool `json:"on_disconnect"`
}

// AppConfig is the root persisted configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Channel    ChannelConfig    `json:"channel"`
	Logging    LoggingConfig    `json:"logging"`
	Poller     PollerConfig     `json:"poller"`
	Recorder   RecorderConfig   `json:"recorder"`
	Metrics    MetricsConfig    `json:"metrics"`
	Alerts     AlertsConfig     `json:"alerts"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			IPAddress:     "",
			Port:          DefaultPort,
			TimeoutS:      DefaultTimeoutSeconds,
			MsgBufferSize: DefaultMsgBufferSize,
			MaxFrameSize:  DefaultMaxFrameSize,
		},
		Channel: ChannelConfig{
			Channel: 1,
			Port:    DefaultChannelPort,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    LogFormatText,
			LogToFile: false,
		},
		Poller: PollerConfig{
			Channels:    []int{1},
			IntervalS:   DefaultPollInterval,
			MaxBackoffS: DefaultMaxBackoff,
		},
		Recorder: RecorderConfig{
			Enabled:   false,
			DBPath:    "readings.db",
			QueueSize: DefaultRecorderQueue,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
		},
		Alerts: AlertsConfig{
			Desktop:         false,
			OnFault:         true,
			OnProtocolError: true,
			OnDisconnect:    true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the operator's command line.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.TimeoutS <= 0 {
		c.Connection.TimeoutS = DefaultTimeoutSeconds
	}
	if c.Connection.MsgBufferSize <= 0 {
		c.Connection.MsgBufferSize = DefaultMsgBufferSize
	}
	if c.Connection.MaxFrameSize <= 0 {
		c.Connection.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Channel.Channel <= 0 {
		c.Channel.Channel = 1
	}
	if c.Channel.Port <= 0 {
		c.Channel.Port = DefaultChannelPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
	if len(c.Poller.Channels) == 0 {
		c.Poller.Channels = []int{c.Channel.Channel}
	}
	if c.Poller.IntervalS <= 0 {
		c.Poller.IntervalS = DefaultPollInterval
	}
	if c.Poller.MaxBackoffS <= 0 {
		c.Poller.MaxBackoffS = DefaultMaxBackoff
	}
	if c.Recorder.QueueSize <= 0 {
		c.Recorder.QueueSize = DefaultRecorderQueue
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
}

func normalizeLogFormat(format LogFormat) LogFormat {
	switch LogFormat(strings.ToLower(string(format))) {
	case LogFormatJSON:
		return LogFormatJSON
	default:
		return LogFormatText
	}
}

// Validate checks the fields every command needs. Channel range against the
// instrument is checked after login.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.IPAddress) == "" {
		return errors.New("connection ip_address is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection port %d out of range", c.Connection.Port)
	}
	if c.Channel.Port <= 0 || c.Channel.Port > 65535 {
		return fmt.Errorf("channel port %d out of range", c.Channel.Port)
	}
	if c.Connection.TimeoutS <= 0 {
		return errors.New("connection timeout_s must be positive")
	}
	if c.Connection.MsgBufferSize <= 0 {
		return errors.New("connection msg_buffer_size must be positive")
	}
	if c.Connection.MaxFrameSize < c.Connection.MsgBufferSize {
		return fmt.Errorf("connection max_frame_size %d is smaller than msg_buffer_size %d", c.Connection.MaxFrameSize, c.Connection.MsgBufferSize)
	}
	if c.Channel.Channel <= 0 {
		return fmt.Errorf("channel %d must be 1 or greater", c.Channel.Channel)
	}
	for _, ch := range c.Poller.Channels {
		if ch <= 0 {
			return fmt.Errorf("poller channel %d must be 1 or greater", ch)
		}
	}
	if c.Recorder.Enabled && strings.TrimSpace(c.Recorder.DBPath) == "" {
		return errors.New("recorder db_path is required when the recorder is enabled")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
