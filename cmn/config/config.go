// Package config provides mempool configuration: YAML file, environment overrides, validation
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// environment
const (
	EnvPrefix = "MEMPOOL_"

	EnvNumCPU        = EnvPrefix + "NCPU"
	EnvMaxCPU        = EnvPrefix + "MAX_CPU"
	EnvPageSize      = EnvPrefix + "PAGE_SIZE"
	EnvInactiveTime  = EnvPrefix + "INACTIVE_TIME"
	EnvDrainInterval = EnvPrefix + "DRAIN_INTERVAL"
	EnvLargeGroups   = EnvPrefix + "LARGE_GROUPS"
	EnvRedzone       = EnvPrefix + "REDZONE"
	EnvQuarantine    = EnvPrefix + "QUARANTINE"
	EnvLogLevel      = EnvPrefix + "LOG_LEVEL"
	EnvLogEncoding   = EnvPrefix + "LOG_ENCODING"
	EnvLogVerbosity  = EnvPrefix + "LOG_VERBOSITY"
)

// defaults
const (
	DefaultPageSize      = 4 * cos.KiB
	DefaultInactiveTime  = time.Second
	DefaultDrainInterval = 10 * time.Second

	MaxPageSize   = 1 * cos.GiB
	MaxQuarantine = 1 << 16
)

type (
	Config struct {
		// number of CPU slots; 0 => sys.NumCPU()
		NumCPU int `yaml:"ncpu"`
		// CPU slots that may be brought online later; 0 => ncpu
		MaxCPU int `yaml:"max_cpu"`
		// backing page size, e.g. "4KiB", "64KiB"; 0 => DefaultPageSize
		PageSize Size `yaml:"page_size"`
		// idle pages younger than this are not reclaimed
		InactiveTime time.Duration `yaml:"inactive_time"`
		// periodic registry drain; 0 => disabled
		DrainInterval time.Duration `yaml:"drain_interval"`
		// default cache group size class for new caches
		LargeGroups bool `yaml:"large_groups"`
		// enable redzone guards for new pools
		Redzone bool `yaml:"redzone"`
		// quarantine depth for new pools; 0 => disabled
		Quarantine int  `yaml:"quarantine"`
		Log        Log  `yaml:"log"`
		loaded     bool // via Load()
	}
	Log struct {
		Level     string `yaml:"level"`    // debug | info | warn | error
		Encoding  string `yaml:"encoding"` // console | json
		Verbosity int    `yaml:"verbosity"`
	}

	// Size is an int64 that unmarshals from either a number or an IEC string
	Size int64
)

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expecting size, got %v", node.Line, node.Tag)
	}
	n, err := cos.ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalYAML() (any, error) { return cos.ToSizeIEC(int64(s), 0), nil }

func Default() *Config {
	return &Config{
		PageSize:      DefaultPageSize,
		InactiveTime:  DefaultInactiveTime,
		DrainInterval: DefaultDrainInterval,
		Log:           Log{Level: "info", Encoding: nlog.EncConsole},
	}
}

// Load reads optional YAML file (empty path => defaults only), applies environment, and validates
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %q", path)
		}
		if err := yaml.Unmarshal(b, config); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %q", path)
		}
	}
	if err := config.env(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.loaded = true
	return config, nil
}

func (c *Config) Loaded() bool { return c.loaded }

func (c *Config) env() (err error) {
	if a := os.Getenv(EnvNumCPU); a != "" {
		if c.NumCPU, err = strconv.Atoi(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvNumCPU, a)
		}
	}
	if a := os.Getenv(EnvMaxCPU); a != "" {
		if c.MaxCPU, err = strconv.Atoi(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvMaxCPU, a)
		}
	}
	if a := os.Getenv(EnvPageSize); a != "" {
		n, err := cos.ParseSize(a)
		if err != nil {
			return errors.Wrapf(err, "invalid env %s", EnvPageSize)
		}
		c.PageSize = Size(n)
	}
	if a := os.Getenv(EnvInactiveTime); a != "" {
		if c.InactiveTime, err = time.ParseDuration(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvInactiveTime, a)
		}
	}
	if a := os.Getenv(EnvDrainInterval); a != "" {
		if c.DrainInterval, err = time.ParseDuration(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvDrainInterval, a)
		}
	}
	if a := os.Getenv(EnvLargeGroups); a != "" {
		if c.LargeGroups, err = strconv.ParseBool(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvLargeGroups, a)
		}
	}
	if a := os.Getenv(EnvRedzone); a != "" {
		if c.Redzone, err = strconv.ParseBool(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvRedzone, a)
		}
	}
	if a := os.Getenv(EnvQuarantine); a != "" {
		if c.Quarantine, err = strconv.Atoi(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvQuarantine, a)
		}
	}
	if a := os.Getenv(EnvLogLevel); a != "" {
		c.Log.Level = a
	}
	if a := os.Getenv(EnvLogEncoding); a != "" {
		c.Log.Encoding = a
	}
	if a := os.Getenv(EnvLogVerbosity); a != "" {
		if c.Log.Verbosity, err = strconv.Atoi(a); err != nil {
			return errors.Wrapf(err, "invalid env %s=%q", EnvLogVerbosity, a)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.NumCPU < 0 {
		return errors.Errorf("invalid ncpu %d", c.NumCPU)
	}
	if c.MaxCPU < 0 || (c.MaxCPU > 0 && c.MaxCPU < c.NumCPU) {
		return errors.Errorf("invalid max_cpu %d (ncpu %d)", c.MaxCPU, c.NumCPU)
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if ps := int(c.PageSize); ps < 0 || ps > MaxPageSize || !cos.IsPow2(ps) {
		return errors.Errorf("invalid page_size %d: expecting power of two in range (0, %s]",
			c.PageSize, cos.ToSizeIEC(MaxPageSize, 0))
	}
	if c.PageSize < 512 {
		return errors.Errorf("invalid page_size %d: too small", c.PageSize)
	}
	if c.InactiveTime < 0 {
		return errors.Errorf("invalid inactive_time %v", c.InactiveTime)
	}
	if c.DrainInterval < 0 {
		return errors.Errorf("invalid drain_interval %v", c.DrainInterval)
	}
	if c.Quarantine < 0 || c.Quarantine > MaxQuarantine {
		return errors.Errorf("invalid quarantine depth %d: expecting [0, %d]", c.Quarantine, MaxQuarantine)
	}
	switch c.Log.Encoding {
	case "":
		c.Log.Encoding = nlog.EncConsole
	case nlog.EncConsole, nlog.EncJSON:
	default:
		return errors.Errorf("invalid log encoding %q", c.Log.Encoding)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

func (c *Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
