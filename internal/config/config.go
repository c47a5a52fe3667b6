package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceAPI = "api"
	SourceRSS = "rss"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
	Keys     KeyConfig      `mapstructure:"keys"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// RateLimit is the sustained number of requests per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FeedConfig struct {
	Source        string        `mapstructure:"source"`
	PageSize      int           `mapstructure:"page_size"`
	SwitchDelay   time.Duration `mapstructure:"switch_delay"`
	LoadThreshold float64       `mapstructure:"load_threshold"`
	PullThreshold float64       `mapstructure:"pull_threshold"`
	PullMax       float64       `mapstructure:"pull_max"`
	RSS           []RSSTab      `mapstructure:"rss"`
	// AllowLocal lets RSS tabs point at loopback or private hosts.
	AllowLocal bool `mapstructure:"allow_local"`
}

// RSSTab maps one RSS/Atom URL to a feed tab when Source is "rss".
type RSSTab struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type UIConfig struct {
	Colors UIColors `mapstructure:"colors"`
	// RowPoints converts one terminal row into the point unit the feed
	// thresholds are expressed in.
	RowPoints            float64 `mapstructure:"row_points"`
	MaxDescriptionLength int     `mapstructure:"max_description_length"`
	WordWrapMaxWidth     int     `mapstructure:"word_wrap_max_width"`
	WordWrapMinWidth     int     `mapstructure:"word_wrap_min_width"`
}

type UIColors struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Accent    string `mapstructure:"accent"`
	Text      string `mapstructure:"text"`
	Muted     string `mapstructure:"muted"`
	Error     string `mapstructure:"error"`
	Success   string `mapstructure:"success"`
}

type KeyConfig struct {
	Modifier string      `mapstructure:"modifier"`
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Quit    string `mapstructure:"quit"`
	Search  string `mapstructure:"search"`
	Refresh string `mapstructure:"refresh"`
	Logout  string `mapstructure:"logout"`
	Profile string `mapstructure:"profile"`
	Back    string `mapstructure:"back"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		API: APIConfig{
			BaseURL:   "https://webapp.crystal-csc.cn/csp_core_api_v3",
			Timeout:   30 * time.Second,
			UserAgent: "cspfeed/1.0 (https://github.com/pders01/cspfeed)",
			RateLimit: 5,
			Burst:     2,
		},
		Database: DatabaseConfig{
			Path:    filepath.Join(homeDir, ".cspfeed.db"),
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			Source:        SourceAPI,
			PageSize:      10,
			SwitchDelay:   500 * time.Millisecond,
			LoadThreshold: 100,
			PullThreshold: 60,
			PullMax:       120,
		},
		Log: LogConfig{
			Level: "off",
			File:  filepath.Join(homeDir, ".cspfeed", "cspfeed.log"),
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:   "#3B82F6",
				Secondary: "#4ECDC4",
				Accent:    "#95E1D3",
				Text:      "#EAEAEA",
				Muted:     "#94A3B8",
				Error:     "#F87171",
				Success:   "#4ADE80",
			},
			RowPoints:            20,
			MaxDescriptionLength: 120,
			WordWrapMaxWidth:     120,
			WordWrapMinWidth:     40,
		},
		Keys: KeyConfig{
			Modifier: "ctrl",
			Bindings: KeyBindings{
				Quit:    "q",
				Search:  "/",
				Refresh: "r",
				Logout:  "l",
				Profile: "p",
				Back:    "esc",
			},
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	for key, value := range settings(defaultConfig()) {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CSPFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects values the feed controller and client cannot work with.
func (c *Config) Validate() error {
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize)
	}
	if c.Feed.PullMax < c.Feed.PullThreshold {
		return fmt.Errorf("feed.pull_max (%v) must not be below feed.pull_threshold (%v)", c.Feed.PullMax, c.Feed.PullThreshold)
	}
	switch c.Feed.Source {
	case SourceAPI:
		if c.API.BaseURL == "" {
			return fmt.Errorf("api.base_url is required for source %q", SourceAPI)
		}
	case SourceRSS:
		if len(c.Feed.RSS) == 0 {
			return fmt.Errorf("feed.rss needs at least one entry for source %q", SourceRSS)
		}
	default:
		return fmt.Errorf("unknown feed.source %q", c.Feed.Source)
	}
	if c.UI.RowPoints <= 0 {
		return fmt.Errorf("ui.row_points must be positive")
	}
	return nil
}

// DefaultDir is where the config file is looked up when no path is given.
func DefaultDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "cspfeed")
}

// DefaultPath is the file GenerateDefaultConfig writes when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// ExpandPath is exported for command-line overrides of configured paths.
func ExpandPath(path string) string {
	return expandPath(path)
}

// settings flattens cfg into dotted viper keys. Leaf keys let a config file
// override single values while every other default survives.
func settings(cfg *Config) map[string]interface{} {
	rss := make([]map[string]interface{}, 0, len(cfg.Feed.RSS))
	for _, t := range cfg.Feed.RSS {
		rss = append(rss, map[string]interface{}{"name": t.Name, "url": t.URL})
	}

	return map[string]interface{}{
		"api.base_url":   cfg.API.BaseURL,
		"api.timeout":    cfg.API.Timeout.String(),
		"api.user_agent": cfg.API.UserAgent,
		"api.rate_limit": cfg.API.RateLimit,
		"api.burst":      cfg.API.Burst,

		"database.path":    cfg.Database.Path,
		"database.timeout": cfg.Database.Timeout.String(),

		"feed.source":         cfg.Feed.Source,
		"feed.page_size":      cfg.Feed.PageSize,
		"feed.switch_delay":   cfg.Feed.SwitchDelay.String(),
		"feed.load_threshold": cfg.Feed.LoadThreshold,
		"feed.pull_threshold": cfg.Feed.PullThreshold,
		"feed.pull_max":       cfg.Feed.PullMax,
		"feed.rss":            rss,
		"feed.allow_local":    cfg.Feed.AllowLocal,

		"log.level": cfg.Log.Level,
		"log.file":  cfg.Log.File,

		"ui.colors.primary":         cfg.UI.Colors.Primary,
		"ui.colors.secondary":       cfg.UI.Colors.Secondary,
		"ui.colors.accent":          cfg.UI.Colors.Accent,
		"ui.colors.text":            cfg.UI.Colors.Text,
		"ui.colors.muted":           cfg.UI.Colors.Muted,
		"ui.colors.error":           cfg.UI.Colors.Error,
		"ui.colors.success":         cfg.UI.Colors.Success,
		"ui.row_points":             cfg.UI.RowPoints,
		"ui.max_description_length": cfg.UI.MaxDescriptionLength,
		"ui.word_wrap_max_width":    cfg.UI.WordWrapMaxWidth,
		"ui.word_wrap_min_width":    cfg.UI.WordWrapMinWidth,

		"keys.modifier":         cfg.Keys.Modifier,
		"keys.bindings.quit":    cfg.Keys.Bindings.Quit,
		"keys.bindings.search":  cfg.Keys.Bindings.Search,
		"keys.bindings.refresh": cfg.Keys.Bindings.Refresh,
		"keys.bindings.logout":  cfg.Keys.Bindings.Logout,
		"keys.bindings.profile": cfg.Keys.Bindings.Profile,
		"keys.bindings.back":    cfg.Keys.Bindings.Back,
	}
}

// Tree returns cfg as nested sections keyed like the config file.
func Tree(cfg *Config) map[string]interface{} {
	v := viper.New()
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}
	return v.AllSettings()
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations are written as strings to keep the TOML readable
	for key, value := range settings(config) {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
