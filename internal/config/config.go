// Package config handles Greenroom configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/greenroom-ai/greenroom/internal/instruct"
	"github.com/greenroom-ai/greenroom/internal/profile"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./greenroom.yaml, ~/.config/greenroom/config.yaml, /etc/greenroom/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"greenroom.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "greenroom", "config.yaml"))
	}

	paths = append(paths, "/etc/greenroom/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Greenroom configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Completion CompletionConfig `yaml:"completion"`
	Authoring  AuthoringConfig  `yaml:"authoring"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`

	// Capabilities seeds the API capability map. The host may replace it
	// per request; entries here serve standalone operation.
	Capabilities map[string]profile.Capability `yaml:"capabilities"`

	// InstructPresets are named instruct templates referenced by connection
	// profiles via their instruct or preset field.
	InstructPresets map[string]instruct.Config `yaml:"instruct_presets"`

	// Instruct is the global (lowest-precedence) instruct configuration.
	Instruct instruct.Config `yaml:"instruct"`
}

// ListenConfig defines the panel API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 7478
}

// CompletionConfig defines the completion back-end endpoints.
type CompletionConfig struct {
	// ChatURL is the base URL of the chat-completion backend.
	ChatURL string `yaml:"chat_url"`
	// TextURL is the base URL of the text-completion backend.
	TextURL string `yaml:"text_url"`
	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`
}

// AuthoringConfig defines default co-authoring preferences. Each value
// can be overridden per request by the panel.
type AuthoringConfig struct {
	// HistoryCount is how many prior turns to include (clamped to [0, 20]).
	HistoryCount int `yaml:"history_count"`
	// Paragraphs and SentencesPerParagraph shape the formatting directive
	// and the response token budget.
	Paragraphs            int     `yaml:"paragraphs"`
	SentencesPerParagraph int     `yaml:"sentences_per_paragraph"`
	Temperature           float64 `yaml:"temperature"`
}

// Load reads and parses the config file at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in zero values with working defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 7478
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Authoring.HistoryCount == 0 {
		c.Authoring.HistoryCount = 4
	}
	if c.Authoring.Paragraphs == 0 {
		c.Authoring.Paragraphs = 1
	}
	if c.Authoring.SentencesPerParagraph == 0 {
		c.Authoring.SentencesPerParagraph = 4
	}
	if c.Authoring.Temperature == 0 {
		c.Authoring.Temperature = 0.8
	}
	if c.Capabilities == nil {
		c.Capabilities = map[string]profile.Capability{}
	}
	if c.InstructPresets == nil {
		c.InstructPresets = map[string]instruct.Config{}
	}
}
