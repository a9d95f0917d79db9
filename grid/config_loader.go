package grid

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var builtinLayouts []byte

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration data
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if len(config.Layouts) == 0 {
		return nil, fmt.Errorf("at least one layout must be defined")
	}

	seen := make(map[string]bool, len(config.Layouts))
	for i, l := range config.Layouts {
		if l.Name == "" {
			return nil, fmt.Errorf("layouts[%d].name is required", i)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("duplicate layout %s", l.Name)
		}
		seen[l.Name] = true
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}

	if config.DefaultLayout != "" && !seen[config.DefaultLayout] {
		return nil, fmt.Errorf("defaultLayout %s is not defined", config.DefaultLayout)
	}

	return &config, nil
}

// DefaultConfig returns the built-in plate layouts with no MQTT broker configured
func DefaultConfig() *Config {
	config, err := ParseConfig(builtinLayouts)
	if err != nil {
		panic(fmt.Sprintf("built-in layouts are invalid: %v", err))
	}
	return config
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
