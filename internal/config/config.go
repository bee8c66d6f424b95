// Package config holds the wallpaper configuration: one preference block
// per output name, resolved on demand and re-read on reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode is the scaling/cropping policy applied when compositing a source
// image into an output's region.
type Mode string

const (
	ModeFill    Mode = "fill"    // cover the output, crop overflow (default)
	ModeFit     Mode = "fit"     // contain within the output, black borders
	ModeStretch Mode = "stretch" // exact output size, aspect ratio ignored
	ModeCenter  Mode = "center"  // no scaling, centered, crop or pad
)

// DefaultOutputKey is the preference block applied to outputs that have no
// block of their own.
const DefaultOutputKey = "default"

// Preference describes how one output's background is painted.
type Preference struct {
	// Background is the path to the source image. Empty means a solid
	// black fill. A leading ~ is expanded at load time.
	Background string `yaml:"background"`
	Mode       Mode   `yaml:"mode"`
}

// Config maps output names to preferences.
type Config struct {
	Outputs map[string]Preference `yaml:"outputs"`
}

// Preference resolves the preference for an output name, falling back to
// the "default" block and then to a black fill in fill mode.
func (c *Config) Preference(name string) Preference {
	if c != nil {
		if p, ok := c.Outputs[name]; ok {
			return p.normalized()
		}
		if p, ok := c.Outputs[DefaultOutputKey]; ok {
			return p.normalized()
		}
	}
	return Preference{Mode: ModeFill}
}

func (p Preference) normalized() Preference {
	if p.Mode == "" {
		p.Mode = ModeFill
	}
	return p
}

// Validate rejects unknown modes up front so a bad edit fails at load
// time instead of mid-paint.
func (c *Config) Validate() error {
	for name, p := range c.Outputs {
		switch p.Mode {
		case "", ModeFill, ModeFit, ModeStretch, ModeCenter:
		default:
			return fmt.Errorf("outputs.%s: unknown mode %q (want fill, fit, stretch or center)", name, p.Mode)
		}
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
