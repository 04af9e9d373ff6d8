package utils

import (
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/fastlog-io/fastlog/utils/log"
)

// Defaults for the runtime tuning knobs. Sizes were chosen to keep a
// single producer from blocking under bursty workloads while bounding
// resident memory; see the bench subcommand for measuring your own.
const (
	DefaultStagingBufferSize = 1 << 20  // 1MB per producer
	DefaultOutputBufferSize  = 1 << 23  // 8MB per I/O buffer (x2)
	DefaultReleaseThreshold  = 1 << 16  // 64KB max per encode call
	DefaultLowWorkThreshold  = 100      // bytes/iteration
	DefaultLogFile           = "./fastlog.clog"

	DefaultPollIntervalNoWork        = time.Millisecond
	DefaultPollIntervalDuringLowWork = time.Microsecond
)

// Config carries every runtime tuning knob. The zero value is not
// usable; obtain one from NewDefaultConfig or ParseConfig.
type Config struct {
	// StagingBufferSize is the capacity of each per-producer ring.
	StagingBufferSize uint64
	// OutputBufferSize is the capacity of each of the two output
	// buffers (one compressing, one in flight).
	OutputBufferSize uint64
	// ReleaseThreshold bounds the chunk size handed to the encoder per
	// call, which bounds how often staging space is returned to the
	// producer.
	ReleaseThreshold uint64
	// PollIntervalNoWork is how long the consumer sleeps when every
	// staging buffer is empty.
	PollIntervalNoWork time.Duration
	// PollIntervalDuringLowWork is the nap taken while an I/O is in
	// flight and little was consumed last iteration. Zero disables it.
	PollIntervalDuringLowWork time.Duration
	// LowWorkThreshold is the bytes/iteration level below which the
	// low-work nap is taken.
	LowWorkThreshold uint64
	// LogFile is the initial output path.
	LogFile string
	// TruncateOnOpen truncates the output file when opening it.
	TruncateOnOpen bool
	// DirectIO pads every submitted write to a 512-byte multiple, the
	// alignment contract of O_DIRECT files. On Linux callers may also
	// add syscall.O_DIRECT through ExtraFileFlags.
	DirectIO bool
	// ExtraFileFlags is OR-ed into the open(2) flags.
	ExtraFileFlags int
	// DiscardOnFull drops staged records instead of blocking the
	// producer when a ring fills, and makes Sync a no-op.
	DiscardOnFull bool
}

// NewDefaultConfig returns a Config with every knob at its default.
func NewDefaultConfig() *Config {
	return &Config{
		StagingBufferSize:         DefaultStagingBufferSize,
		OutputBufferSize:          DefaultOutputBufferSize,
		ReleaseThreshold:          DefaultReleaseThreshold,
		PollIntervalNoWork:        DefaultPollIntervalNoWork,
		PollIntervalDuringLowWork: DefaultPollIntervalDuringLowWork,
		LowWorkThreshold:          DefaultLowWorkThreshold,
		LogFile:                   DefaultLogFile,
		TruncateOnOpen:            true,
	}
}

// FileFlags returns the open(2) flags for the output file.
func (c *Config) FileFlags() int {
	flags := os.O_CREATE | os.O_RDWR
	if c.TruncateOnOpen {
		flags |= os.O_TRUNC
	}
	return flags | c.ExtraFileFlags
}

// ParseConfig unmarshals YAML configuration data over the defaults.
// Size fields accept human-readable values ("4K", "8M").
func ParseConfig(data []byte) (*Config, error) {
	aux := struct {
		StagingBufferSize         string `yaml:"staging_buffer_size"`
		OutputBufferSize          string `yaml:"output_buffer_size"`
		ReleaseThreshold          string `yaml:"release_threshold"`
		PollIntervalNoWork        string `yaml:"poll_interval_no_work"`
		PollIntervalDuringLowWork string `yaml:"poll_interval_during_low_work"`
		LowWorkThreshold          uint64 `yaml:"low_work_threshold"`
		LogFile                   string `yaml:"log_file"`
		Truncate                  *bool  `yaml:"truncate"`
		DirectIO                  bool   `yaml:"direct_io"`
		DiscardOnFull             bool   `yaml:"discard_on_full"`
	}{}
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}

	c := NewDefaultConfig()

	var err error
	if aux.StagingBufferSize != "" {
		if c.StagingBufferSize, err = bytefmt.ToBytes(aux.StagingBufferSize); err != nil {
			return nil, errors.Wrap(err, "invalid staging_buffer_size")
		}
	}
	if aux.OutputBufferSize != "" {
		if c.OutputBufferSize, err = bytefmt.ToBytes(aux.OutputBufferSize); err != nil {
			return nil, errors.Wrap(err, "invalid output_buffer_size")
		}
	}
	if aux.ReleaseThreshold != "" {
		if c.ReleaseThreshold, err = bytefmt.ToBytes(aux.ReleaseThreshold); err != nil {
			return nil, errors.Wrap(err, "invalid release_threshold")
		}
	}
	if aux.PollIntervalNoWork != "" {
		if c.PollIntervalNoWork, err = time.ParseDuration(aux.PollIntervalNoWork); err != nil {
			return nil, errors.Wrap(err, "invalid poll_interval_no_work")
		}
	}
	if aux.PollIntervalDuringLowWork != "" {
		if c.PollIntervalDuringLowWork, err = time.ParseDuration(aux.PollIntervalDuringLowWork); err != nil {
			return nil, errors.Wrap(err, "invalid poll_interval_during_low_work")
		}
	}
	if aux.LowWorkThreshold != 0 {
		c.LowWorkThreshold = aux.LowWorkThreshold
	}
	if aux.LogFile != "" {
		c.LogFile = aux.LogFile
	}
	if aux.Truncate != nil {
		c.TruncateOnOpen = *aux.Truncate
	}
	c.DirectIO = aux.DirectIO
	c.DiscardOnFull = aux.DiscardOnFull

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the relations the engine depends on.
func (c *Config) Validate() error {
	if c.StagingBufferSize < 64 {
		return errors.Errorf("staging_buffer_size %d is too small", c.StagingBufferSize)
	}
	if c.OutputBufferSize < 512 {
		return errors.Errorf("output_buffer_size %d is too small", c.OutputBufferSize)
	}
	// Padding rounds writes up to the next 512-byte boundary in place,
	// so the buffer itself must end on one.
	if c.OutputBufferSize%512 != 0 {
		return errors.Errorf("output_buffer_size %d must be a multiple of 512", c.OutputBufferSize)
	}
	if c.ReleaseThreshold == 0 {
		return errors.New("release_threshold must be non-zero")
	}
	if c.ReleaseThreshold > c.StagingBufferSize {
		log.Warn("release_threshold %d exceeds staging_buffer_size %d; clamping",
			c.ReleaseThreshold, c.StagingBufferSize)
		c.ReleaseThreshold = c.StagingBufferSize
	}
	// The encoder must always be able to fit one worst-case chunk in
	// an empty output buffer, or the consumer could stall.
	if c.OutputBufferSize < 2*c.ReleaseThreshold {
		return errors.Errorf("output_buffer_size %d must be at least twice release_threshold %d",
			c.OutputBufferSize, c.ReleaseThreshold)
	}
	return nil
}
