// Package config is used to load the configuration file
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/blacktop/go-machinfo/pkg/machinfo"
)

type scan struct {
	// MaxPages bounds the backward page scan for the kernel base.
	MaxPages int `json:"max-pages" mapstructure:"max-pages"`
}

// Config is the configuration struct
type Config struct {
	Scan    scan `json:"scan" mapstructure:"scan"`
	Verbose bool `json:"verbose" mapstructure:"verbose"`
	Color   bool `json:"color" mapstructure:"color"`
}

func (c *Config) verify() error {
	if c.Scan.MaxPages == 0 {
		c.Scan.MaxPages = machinfo.DefaultMaxScanPages
	} else if c.Scan.MaxPages < 0 {
		return fmt.Errorf("config: scan.max-pages must be positive")
	}
	return nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
