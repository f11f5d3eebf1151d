package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values loaded from a file.
const (
	EnvURL   = "SANDBOX_URL"
	EnvToken = "SANDBOX_TOKEN"
	EnvDebug = "SANDBOX_DEBUG"
)

// ConfigProcessor is a function that can modify or extend a Config after loading
type ConfigProcessor func(*Config) error

// LoadFromFile loads a Config from a file path. The format is picked by
// extension: .json, .yaml/.yml or .toml.
// The optional processor callback can be used to customize the loaded config
func LoadFromFile(path string, processor ConfigProcessor) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return LoadFromJSON(data, processor)
	case ".yaml", ".yml":
		return LoadFromYAML(data, processor)
	case ".toml":
		return LoadFromTOML(data, processor)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
}

// LoadFromJSON parses a Config from JSON data
func LoadFromJSON(data []byte, processor ConfigProcessor) (*Config, error) {
	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finishLoad(&config, processor)
}

// LoadFromYAML parses a Config from YAML data
func LoadFromYAML(data []byte, processor ConfigProcessor) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finishLoad(&config, processor)
}

// LoadFromTOML parses a Config from TOML data
func LoadFromTOML(data []byte, processor ConfigProcessor) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finishLoad(&config, processor)
}

// LoadFromEnv builds a Config from defaults and environment variables only.
func LoadFromEnv(processor ConfigProcessor) (*Config, error) {
	config := DefaultConfig()
	return finishLoad(&config, processor)
}

func finishLoad(config *Config, processor ConfigProcessor) (*Config, error) {
	applyEnv(config)

	// Apply processor if provided
	if processor != nil {
		if err := processor(config); err != nil {
			return nil, fmt.Errorf("error in config processor: %w", err)
		}
	}
	return config, nil
}

func applyEnv(config *Config) {
	config.URL = getEnvOrDefault(EnvURL, config.URL)
	config.Token = getEnvOrDefault(EnvToken, config.Token)
	if v, err := strconv.ParseBool(getEnvOrDefault(EnvDebug, "")); err == nil {
		config.Debug = v
	}
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
