package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaseURL  = "http://localhost:8000"
	DefaultTopic    = "General"
	DefaultUserID   = "anonymous"
	DefaultLanguage = "en"
	DefaultDataDir  = "."
)

// Config holds application configuration
type Config struct {
	BaseURL    string  `toml:"base_url"`   // Tutor backend base URL
	UserID     string  `toml:"user_id"`    // User identifier sent with chat requests
	Topic      string  `toml:"topic"`      // Active topic title
	TopicID    string  `toml:"topic_id"`   // Topic identifier used to scope stored sessions
	SessionID  string  `toml:"session_id"` // Resume an existing session by ID
	Language   string  `toml:"language"`   // Speech language ("en" or "ar")
	SpeechRate float64 `toml:"speech_rate"`
	Debug      bool    `toml:"debug"`
	DataDir    string  `toml:"data_dir"` // Directory for the sqlite database and exports
}

// Default returns a Config populated with the standard defaults.
func Default() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserID:     DefaultUserID,
		Topic:      DefaultTopic,
		Language:   DefaultLanguage,
		SpeechRate: 1.0,
		DataDir:    DefaultDataDir,
	}
}

// LoadFile merges settings from a TOML file into cfg.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}
