// Package config enumerates the rollout engine's construction
// parameters, loadable from YAML with flag overrides at the cmd layer.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. The engine is built once
// per process; every violation detected by Validate is fatal.
type Config struct {
	DatasetPath string `yaml:"dataset_path"`
	AssetPath   string `yaml:"asset_path"`

	Environments int `yaml:"environments"`
	ActiveScenes int `yaml:"active_scenes"`

	// Workers is the simulation worker thread count; -1 means
	// max(cores-1, 1).
	Workers int `yaml:"workers"`

	GPUID      int    `yaml:"gpu_id"`
	Resolution [2]int `yaml:"resolution"` // [height, width]
	Color      bool   `yaml:"color"`
	Depth      bool   `yaml:"depth"`

	// DoubleBuffered creates two environment groups so render of one
	// half overlaps simulation of the other.
	DoubleBuffered bool `yaml:"double_buffered"`

	Seed uint64 `yaml:"seed"`

	// PinThreads enables best-effort CPU affinity: caller on core 0,
	// workers on 1..N, loaders from the top of the set.
	PinThreads bool `yaml:"pin_threads"`
}

// Defaults returns a config suitable for a small CPU-only run; callers
// still must set the dataset and asset paths.
func Defaults() Config {
	return Config{
		Environments: 64,
		ActiveScenes: 4,
		Workers:      -1,
		GPUID:        0,
		Resolution:   [2]int{64, 64},
		Color:        true,
		Depth:        true,
		Seed:         0,
	}
}

// Load reads a YAML config file over Defaults.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("rollout.yaml: %w", err)
	}
	return c, nil
}

// NumGroups is 2 when double buffering, else 1.
func (c Config) NumGroups() int {
	if c.DoubleBuffered {
		return 2
	}
	return 1
}

// Validate enforces the divisibility and range rules the engine assumes.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return fmt.Errorf("dataset_path is required")
	}
	if c.AssetPath == "" {
		return fmt.Errorf("asset_path is required")
	}
	if c.Environments <= 0 {
		return fmt.Errorf("environments must be positive, got %d", c.Environments)
	}
	if c.ActiveScenes <= 0 {
		return fmt.Errorf("active_scenes must be positive, got %d", c.ActiveScenes)
	}
	if c.Environments%c.ActiveScenes != 0 {
		return fmt.Errorf("environments (%d) must divide evenly across active scenes (%d)",
			c.Environments, c.ActiveScenes)
	}
	groups := c.NumGroups()
	if c.Environments%groups != 0 {
		return fmt.Errorf("environments (%d) must be even for double buffering", c.Environments)
	}
	if c.ActiveScenes%groups != 0 {
		return fmt.Errorf("active_scenes (%d) must be even for double buffering", c.ActiveScenes)
	}
	if c.Workers == 0 || c.Workers < -1 {
		return fmt.Errorf("workers must be positive or -1, got %d", c.Workers)
	}
	if c.Resolution[0] <= 0 || c.Resolution[1] <= 0 {
		return fmt.Errorf("resolution must be positive, got %v", c.Resolution)
	}
	if !c.Color && !c.Depth {
		return fmt.Errorf("at least one of color/depth must be enabled")
	}
	return nil
}
