// Package config holds the tunable parameters of the classification engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default values used when a field is absent from the config file.
const (
	DefaultForestCount = 1
	DefaultTreeCount   = 100
	DefaultMinSamples  = 2
)

// ClassifierConfig represents the classifier tuning parameters. Fields are
// pointers so a partial JSON file only overrides what it names; the Get*
// accessors supply defaults for the rest.
type ClassifierConfig struct {
	// Number of independently trained ensemble members.
	ForestCount *int `json:"forest_count,omitempty"`

	// Trees per ensemble member.
	TreeCount *int `json:"tree_count,omitempty"`

	// Tree growth limits.
	MaxDepth   *int `json:"max_depth,omitempty"`
	MinSamples *int `json:"min_samples,omitempty"`

	// Worker pool size for training/inference tasks; 0 means NumCPU.
	PoolWorkers *int `json:"pool_workers,omitempty"`

	// Deterministic seeding for reproducible training runs.
	Seed *int64 `json:"seed,omitempty"`
}

// EmptyClassifierConfig returns a config with all fields unset.
func EmptyClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{}
}

// LoadClassifierConfig loads a ClassifierConfig from a JSON file. Fields
// omitted from the file retain their defaults, so partial configs are safe.
func LoadClassifierConfig(path string) (*ClassifierConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyClassifierConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every set field is in range.
func (c *ClassifierConfig) Validate() error {
	if c.ForestCount != nil && *c.ForestCount < 1 {
		return fmt.Errorf("forest_count must be at least 1, got %d", *c.ForestCount)
	}
	if c.TreeCount != nil && *c.TreeCount < 1 {
		return fmt.Errorf("tree_count must be at least 1, got %d", *c.TreeCount)
	}
	if c.MaxDepth != nil && *c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", *c.MaxDepth)
	}
	if c.MinSamples != nil && *c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", *c.MinSamples)
	}
	if c.PoolWorkers != nil && *c.PoolWorkers < 0 {
		return fmt.Errorf("pool_workers must not be negative, got %d", *c.PoolWorkers)
	}
	return nil
}

// GetForestCount returns the ensemble size.
func (c *ClassifierConfig) GetForestCount() int {
	if c.ForestCount != nil {
		return *c.ForestCount
	}
	return DefaultForestCount
}

// GetTreeCount returns the trees per member.
func (c *ClassifierConfig) GetTreeCount() int {
	if c.TreeCount != nil {
		return *c.TreeCount
	}
	return DefaultTreeCount
}

// GetMaxDepth returns the tree depth limit (0 = unbounded).
func (c *ClassifierConfig) GetMaxDepth() int {
	if c.MaxDepth != nil {
		return *c.MaxDepth
	}
	return 0
}

// GetMinSamples returns the minimum rows needed to split a node.
func (c *ClassifierConfig) GetMinSamples() int {
	if c.MinSamples != nil {
		return *c.MinSamples
	}
	return DefaultMinSamples
}

// GetPoolWorkers returns the worker pool size (0 = NumCPU).
func (c *ClassifierConfig) GetPoolWorkers() int {
	if c.PoolWorkers != nil {
		return *c.PoolWorkers
	}
	return 0
}

// GetSeed returns the training seed (0 = nondeterministic).
func (c *ClassifierConfig) GetSeed() int64 {
	if c.Seed != nil {
		return *c.Seed
	}
	return 0
}
