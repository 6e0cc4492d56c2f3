// Package config loads the daemon configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/coffersTech/grandoutput/internal/dispatch"
	"github.com/coffersTech/grandoutput/internal/storage"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the HTTP address, for example ":8088".
	Listen string `yaml:"listen"`
	// DataDir receives the segment files of the common sink.
	DataDir string `yaml:"data_dir"`
	// Retention is the age after which segment files are deleted. Zero
	// keeps files forever.
	Retention     time.Duration `yaml:"retention"`
	CleanInterval time.Duration `yaml:"clean_interval"`

	Segment    Segment    `yaml:"segment"`
	Dispatcher Dispatcher `yaml:"dispatcher"`

	// Tokens are the bearer tokens accepted by the HTTP API. An empty list
	// disables authentication.
	Tokens []Token `yaml:"tokens"`
}

// Segment configures the segment writer of the common sink.
type Segment struct {
	Compression       string `yaml:"compression"`
	MaxEntriesPerFile int    `yaml:"max_entries_per_file"`
}

// Dispatcher configures the admission strategy of the dispatcher.
type Dispatcher struct {
	MaxCapacity        int           `yaml:"max_capacity"`
	ReenableCapacity   int           `yaml:"reenable_capacity"`
	SamplingCount      int           `yaml:"sampling_count"`
	LostEventsCooldown time.Duration `yaml:"lost_events_cooldown"`
}

// Token is a named bcrypt hash of a bearer token.
type Token struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:        ":8088",
		DataDir:       "data",
		Retention:     7 * 24 * time.Hour,
		CleanInterval: time.Hour,
		Segment: Segment{
			Compression:       "zstd",
			MaxEntriesPerFile: storage.DefaultMaxEntriesPerFile,
		},
		Dispatcher: Dispatcher{
			MaxCapacity:        dispatch.DefaultMaxCapacity,
			ReenableCapacity:   dispatch.DefaultReenableCapacity,
			SamplingCount:      dispatch.DefaultSamplingCount,
			LostEventsCooldown: dispatch.DefaultLostEventsCooldown,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen: must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir: must not be empty"))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention: must not be negative, got %s", c.Retention))
	}
	if c.Retention > 0 && c.CleanInterval <= 0 {
		errs = append(errs, fmt.Errorf("clean_interval: must be positive, got %s", c.CleanInterval))
	}
	if _, err := storage.ParseCompression(c.Segment.Compression); err != nil {
		errs = append(errs, fmt.Errorf("segment.compression: %w", err))
	}
	if c.Segment.MaxEntriesPerFile < 0 {
		errs = append(errs, fmt.Errorf("segment.max_entries_per_file: must not be negative, got %d", c.Segment.MaxEntriesPerFile))
	}
	if _, err := c.Strategy(); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if c.Dispatcher.LostEventsCooldown <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.lost_events_cooldown: must be positive, got %s", c.Dispatcher.LostEventsCooldown))
	}
	names := make(map[string]struct{}, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tokens[%d]: name must not be empty", i))
		} else if _, dup := names[t.Name]; dup {
			errs = append(errs, fmt.Errorf("tokens[%d]: duplicate name %q", i, t.Name))
		}
		names[t.Name] = struct{}{}
		if _, err := bcrypt.Cost([]byte(t.Hash)); err != nil {
			errs = append(errs, fmt.Errorf("tokens[%d]: invalid bcrypt hash: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Compression returns the parsed segment compression.
func (c *Config) Compression() storage.Compression {
	comp, _ := storage.ParseCompression(c.Segment.Compression)
	return comp
}

// Strategy builds the dispatcher admission strategy.
func (c *Config) Strategy() (*dispatch.BasicStrategy, error) {
	d := c.Dispatcher
	return dispatch.NewBasicStrategy(d.MaxCapacity, d.ReenableCapacity, d.SamplingCount)
}
