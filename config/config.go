// Package config loads and validates the hierarchy configuration.
//
// Configuration files are HuJSON (JSON with comments and trailing
// commas). Values unmarshal over the defaults, so a file only needs to
// name the fields it changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Level holds the configuration of one cache level.
type Level struct {
	// Size in bytes.
	Size int `json:"size_bytes"`
	// Associativity (number of ways per set).
	Associativity int `json:"associativity"`
	// Mapping: "direct", "set-associative", or "fully-associative".
	Mapping string `json:"mapping"`
	// ReplacementPolicy: "random", "lru", or "temporal-spatial".
	ReplacementPolicy string `json:"replacement_policy"`
	// LineSize in bytes.
	LineSize int `json:"line_size_bytes"`
	// BusWidth in bits.
	BusWidth int `json:"bus_width"`
	// WritePolicy: "write-through" or "write-back".
	WritePolicy string `json:"write_policy"`
}

// Config holds the configuration of the whole hierarchy.
type Config struct {
	L1I Level `json:"l1i"`
	L1D Level `json:"l1d"`
	L2  Level `json:"l2"`
}

// Default returns the reference configuration: 512 B two-way L1 caches
// and a 1 KiB two-way L2, all with 64 B lines, LRU replacement, and
// write-back.
func Default() *Config {
	l1 := Level{
		Size:              512,
		Associativity:     2,
		Mapping:           "set-associative",
		ReplacementPolicy: "lru",
		LineSize:          64,
		BusWidth:          64,
		WritePolicy:       "write-back",
	}
	l2 := l1
	l2.Size = 1024

	return &Config{
		L1I: l1,
		L1D: l1,
		L2:  l2,
	}
}

// Load reads a HuJSON configuration file and merges it over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
