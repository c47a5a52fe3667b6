package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:0",
			Timeout:   5 * time.Second,
			UserAgent: "cspfeed-test/1.0",
		},
		Database: DatabaseConfig{
			Path:    ":memory:",
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			Source:        SourceAPI,
			PageSize:      10,
			SwitchDelay:   0,
			LoadThreshold: 100,
			PullThreshold: 60,
			PullMax:       120,
		},
		Log:  LogConfig{Level: "off"},
		UI:   defaultConfig().UI,
		Keys: defaultConfig().Keys,
	}
}
