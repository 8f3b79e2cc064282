package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tmykhalevych/event-tracer/pkg/message"
	"github.com/tmykhalevych/event-tracer/pkg/slab"
)

const (
	// eventSize mirrors the size of domain.Event.
	eventSize = 16

	maxBufferSize    = 64 << 20
	maxMessageLenCap = 256
	minQueueSize     = 2
)

// TracerConfig holds the settings of a tracer and its consumer client
type TracerConfig struct {
	// BufferSize is the total trace buffer in bytes (default: 8192)
	BufferSize int `json:"buffer_size" yaml:"buffer_size" mapstructure:"buffer_size"`

	// MaxMessageLen is the slab size for interned messages, terminating
	// zero included (default: 16)
	MaxMessageLen int `json:"max_message_len" yaml:"max_message_len" mapstructure:"max_message_len"`

	// MessagePoolRatio is the share of the buffer reserved for message slabs (default: 0.25)
	MessagePoolRatio float64 `json:"message_pool_ratio" yaml:"message_pool_ratio" mapstructure:"message_pool_ratio"`

	// QueueSize is the depth of the channel between tracer and consumer (default: 2)
	QueueSize int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`

	// PollingInterval of the draining goroutine (default: 100ms)
	PollingInterval time.Duration `json:"polling_interval" yaml:"polling_interval" mapstructure:"polling_interval"`

	// MaxTasks bounds the system state dump (default: 16)
	MaxTasks int `json:"max_tasks" yaml:"max_tasks" mapstructure:"max_tasks"`

	// ReportInterval throttles repeated error logs (default: 5s). Zero
	// logs every error and is kept by SetDefaults.
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval" mapstructure:"report_interval"`

	// MetricsEnabled turns on OpenTelemetry instruments (default: true)
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
}

// DefaultTracerConfig returns a TracerConfig with sensible defaults
func DefaultTracerConfig() *TracerConfig {
	return &TracerConfig{
		BufferSize:       8192,
		MaxMessageLen:    16,
		MessagePoolRatio: 0.25,
		QueueSize:        minQueueSize,
		PollingInterval:  100 * time.Millisecond,
		MaxTasks:         16,
		ReportInterval:   5 * time.Second,
		MetricsEnabled:   true,
	}
}

// SetDefaults applies default values to unset fields
func (c *TracerConfig) SetDefaults() {
	d := DefaultTracerConfig()

	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxMessageLen == 0 {
		c.MaxMessageLen = d.MaxMessageLen
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PollingInterval == 0 {
		c.PollingInterval = d.PollingInterval
	}
	if c.MaxTasks == 0 {
		c.MaxTasks = d.MaxTasks
	}
}

// Validate checks ranges and that the buffer leaves room for two
// registries after the message pool is carved out
func (c *TracerConfig) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.BufferSize > maxBufferSize {
		return fmt.Errorf("buffer_size too large, got %d (max: %d)", c.BufferSize, maxBufferSize)
	}
	if c.MaxMessageLen < slab.LinkSize || c.MaxMessageLen > maxMessageLenCap {
		return fmt.Errorf("max_message_len must be within [%d, %d], got %d", slab.LinkSize, maxMessageLenCap, c.MaxMessageLen)
	}
	if c.MessagePoolRatio < 0 || c.MessagePoolRatio >= 1 {
		return fmt.Errorf("message_pool_ratio must be within [0, 1), got %v", c.MessagePoolRatio)
	}
	if c.QueueSize < minQueueSize {
		return fmt.Errorf("queue_size must be at least %d, got %d", minQueueSize, c.QueueSize)
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be positive, got %v", c.PollingInterval)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max_tasks must be positive, got %d", c.MaxTasks)
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("report_interval cannot be negative, got %v", c.ReportInterval)
	}
	if n := c.MessageSlabs(); n > message.MaxSlabs {
		return fmt.Errorf("buffer_size %d yields %d message slabs (max: %d), lower message_pool_ratio or raise max_message_len",
			c.BufferSize, n, message.MaxSlabs)
	}
	if n := c.RegistryCapacity(); n < 2 {
		return fmt.Errorf("buffer_size %d leaves %d events per registry (min: 2)", c.BufferSize, n)
	}
	return nil
}

// MessageSlabs returns the number of message slabs carved from the buffer.
func (c *TracerConfig) MessageSlabs() int {
	if c.MaxMessageLen <= 0 {
		return 0
	}
	return int(float64(c.BufferSize)*c.MessagePoolRatio) / c.MaxMessageLen
}

// RegistryCapacity returns the number of events each registry will hold.
func (c *TracerConfig) RegistryCapacity() int {
	rest := c.BufferSize - c.MessageSlabs()*c.MaxMessageLen
	return rest / eventSize / 2
}

// LoadFile reads a YAML file, applies defaults and validates the result.
func LoadFile(path string) (*TracerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultTracerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromViper decodes the tracer section of v. Flags and environment
// variables bound under the "tracer." prefix take part in the merge.
func FromViper(v *viper.Viper) (*TracerConfig, error) {
	if v == nil {
		return nil, errors.New("viper instance is nil")
	}

	file := struct {
		Tracer TracerConfig `mapstructure:"tracer"`
	}{Tracer: *DefaultTracerConfig()}

	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to decode tracer config: %w", err)
	}
	cfg := &file.Tracer
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
