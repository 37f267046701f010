package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/boardwatch/book"
	"github.com/hazyhaar/boardwatch/extract"
)

// Config holds all engine configuration.
type Config struct {
	// DBPath is the settings/event database. Default: "boardwatch.db".
	DBPath string `yaml:"db_path"`

	// Debounce is the quiet period after the last node-adding mutation
	// before a cycle runs. Default: 300ms.
	Debounce time.Duration `yaml:"debounce"`

	// Extract names the selector conventions for the target board.
	Extract extract.Conventions `yaml:"extract"`

	Booking BookingConfig `yaml:"booking"`
}

// BookingConfig tunes the executor.
type BookingConfig struct {
	Conventions  book.Conventions  `yaml:"conventions"`
	Fill         book.FillDefaults `yaml:"fill"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	Deadline     time.Duration     `yaml:"deadline"`
	SettleDelay  time.Duration     `yaml:"settle_delay"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "boardwatch.db"
	}
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.Booking.PollInterval <= 0 {
		c.Booking.PollInterval = 100 * time.Millisecond
	}
	if c.Booking.Deadline <= 0 {
		c.Booking.Deadline = 5 * time.Second
	}
	if c.Booking.SettleDelay <= 0 {
		c.Booking.SettleDelay = 50 * time.Millisecond
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("engine: parse config: %w", err)
	}
	return cfg, nil
}
