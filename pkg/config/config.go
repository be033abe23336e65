package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ModelSettings struct {
		BaseURL     string   `yaml:"base_url"`
		Models      []string `yaml:"models"`
		Temperature float64  `yaml:"temperature"`
		TopP        float64  `yaml:"top_p"`
		MaxTokens   int      `yaml:"max_tokens"`
		// TimeoutSeconds bounds a single completion call.
		TimeoutSeconds int `yaml:"timeout_seconds"`
		// Vision sends user-attached images to the model as image parts.
		Vision bool `yaml:"vision"`
	} `yaml:"model_settings"`
	Pacing struct {
		CharsPerSecond float64 `yaml:"chars_per_second"`
		ThinkingMs     int     `yaml:"thinking_ms"`
		MinDelayMs     int     `yaml:"min_delay_ms"`
		MaxDelayMs     int     `yaml:"max_delay_ms"`
		VoiceDelayMs   int     `yaml:"voice_delay_ms"`
	} `yaml:"pacing"`
	Chunking struct {
		MaxBubbleChars int `yaml:"max_bubble_chars"`
		PackSlack      int `yaml:"pack_slack"`
		LongFormChars  int `yaml:"long_form_chars"`
	} `yaml:"chunking"`
	History struct {
		MaxMessages int `yaml:"max_messages"`
		MaxTokens   int `yaml:"max_tokens"`
	} `yaml:"history"`
	Storage struct {
		// Backend is one of memory, redis, surreal.
		Backend string `yaml:"backend"`
		Prefix  string `yaml:"prefix"`
		Table   string `yaml:"table"`
	} `yaml:"storage"`
	Server struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	config := &Config{}
	config.ModelSettings.BaseURL = "https://api.openai.com/v1"
	config.ModelSettings.Models = []string{"gpt-4o-mini"}
	config.ModelSettings.Temperature = 0.9
	config.ModelSettings.TopP = 1
	config.ModelSettings.MaxTokens = 2000
	config.ModelSettings.TimeoutSeconds = 120
	config.Pacing.CharsPerSecond = 16
	config.Pacing.ThinkingMs = 200
	config.Pacing.MinDelayMs = 280
	config.Pacing.MaxDelayMs = 1200
	config.Pacing.VoiceDelayMs = 500
	config.Chunking.MaxBubbleChars = 70
	config.Chunking.PackSlack = 10
	config.Chunking.LongFormChars = 240
	config.History.MaxMessages = 40
	config.History.MaxTokens = 6000
	config.Storage.Backend = "memory"
	config.Storage.Prefix = "xiaoshouji"
	config.Storage.Table = "kv"
	config.Server.Enabled = true
	config.Server.Addr = ":8080"
	config.Logging.Level = "info"
	config.Logging.Pretty = true
	return config
}

// LoadConfig reads path on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
