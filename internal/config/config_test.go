package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	c := Defaults()
	c.DatasetPath = "/data/episodes"
	c.AssetPath = "/data/assets"
	return c
}

func TestDefaultsValidateWithPaths(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing dataset", func(c *Config) { c.DatasetPath = "" }, "dataset_path"},
		{"missing assets", func(c *Config) { c.AssetPath = "" }, "asset_path"},
		{"zero envs", func(c *Config) { c.Environments = 0 }, "environments"},
		{"zero scenes", func(c *Config) { c.ActiveScenes = 0 }, "active_scenes"},
		{"uneven split", func(c *Config) { c.Environments = 10; c.ActiveScenes = 4 }, "divide evenly"},
		{"odd scenes double buffered", func(c *Config) {
			c.DoubleBuffered = true
			c.Environments = 60
			c.ActiveScenes = 3
		}, "double buffering"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"bad workers", func(c *Config) { c.Workers = -3 }, "workers"},
		{"zero resolution", func(c *Config) { c.Resolution = [2]int{0, 64} }, "resolution"},
		{"no outputs", func(c *Config) { c.Color = false; c.Depth = false }, "color/depth"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("Validate accepted %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNumGroups(t *testing.T) {
	c := validConfig()
	if c.NumGroups() != 1 {
		t.Fatalf("NumGroups = %d, want 1", c.NumGroups())
	}
	c.DoubleBuffered = true
	if c.NumGroups() != 2 {
		t.Fatalf("NumGroups = %d, want 2", c.NumGroups())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.yaml")
	doc := `
dataset_path: /ds
asset_path: /as
environments: 128
active_scenes: 8
workers: 6
resolution: [32, 48]
double_buffered: true
seed: 99
pin_threads: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Environments != 128 || c.ActiveScenes != 8 || c.Workers != 6 {
		t.Fatalf("config = %+v", c)
	}
	if c.Resolution != [2]int{32, 48} || !c.DoubleBuffered || c.Seed != 99 || !c.PinThreads {
		t.Fatalf("config = %+v", c)
	}
	// Unset fields keep their defaults.
	if !c.Color || !c.Depth {
		t.Fatalf("color/depth defaults lost: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load accepted a missing file")
	}
}
