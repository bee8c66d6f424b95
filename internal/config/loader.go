package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "wlpaper"
	configFileName = "config.yaml"
)

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName, configFileName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, configFileName), nil
}

// SearchConfigPath returns the first existing config file, trying the
// per-user location and then /etc. It returns os.ErrNotExist when no file
// is found; running without a config is valid (every output falls back to
// a black fill).
func SearchConfigPath() (string, error) {
	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}
	candidates := []string{
		userPath,
		filepath.Join("/etc", configDirName, configFileName),
	}
	for _, path := range candidates {
		exists, err := pathExists(path)
		if err != nil {
			return "", err
		}
		if exists {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// Load reads the config from the standard search path. A missing file
// yields an empty config, not an error.
func Load() (*Config, string, error) {
	path, err := SearchConfigPath()
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, "", nil
		}
		return nil, "", err
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath reads and validates a config file. Unknown keys are
// rejected so typos surface immediately.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read: %w", path, err)
	}

	var cfg Config
	if err := decodeStrictYAML(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for name, p := range cfg.Outputs {
		if p.Background == "" {
			continue
		}
		expanded, err := expandHome(p.Background)
		if err != nil {
			return nil, fmt.Errorf("%s: outputs.%s.background: %w", path, name, err)
		}
		p.Background = expanded
		cfg.Outputs[name] = p
	}

	return &cfg, nil
}

func decodeStrictYAML(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to parse yaml: %w", err)
	}
	return nil
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
