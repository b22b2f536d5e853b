// Package config provides configuration management for livedirector.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Expressions ExpressionConfig `mapstructure:"expressions"`
	Idle        IdleConfig       `mapstructure:"idle"`
	Media       MediaConfig      `mapstructure:"media"`
	VTS         VTSConfig        `mapstructure:"vts"`
	Bridges     BridgeConfig     `mapstructure:"bridges"`
	Server      ServerConfig     `mapstructure:"server"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ExpressionConfig assigns roles to expression names.
type ExpressionConfig struct {
	// Timed maps expression names to auto-off durations.
	Timed map[string]time.Duration `mapstructure:"timed"`
	// ToggleSpecial names flip state on every sighting, ignoring on/off.
	ToggleSpecial []string `mapstructure:"toggle_special"`
	// Ignored names are dropped entirely.
	Ignored []string `mapstructure:"ignored"`
}

// IdleConfig tunes the idle and interrupt actions.
type IdleConfig struct {
	Delay           time.Duration `mapstructure:"delay"`
	IdleAction      string        `mapstructure:"idle_action"`
	InterruptAction string        `mapstructure:"interrupt_action"`
}

// MediaConfig configures the BGM loop.
type MediaConfig struct {
	BgmPlaylistID int64 `mapstructure:"bgm_playlist_id"`
}

// VTSConfig configures the VTube Studio connection.
type VTSConfig struct {
	URL        string        `mapstructure:"url"`
	PluginName string        `mapstructure:"plugin_name"`
	PluginDev  string        `mapstructure:"plugin_dev"`
	TokenFile  string        `mapstructure:"token_file"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BridgeConfig points at the external TTS and media backends.
type BridgeConfig struct {
	TTSURL   string        `mapstructure:"tts_url"`
	MediaURL string        `mapstructure:"media_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the admin/overlay HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Expressions: ExpressionConfig{
			Timed:         map[string]time.Duration{"吐舌": 3 * time.Second},
			ToggleSpecial: []string{"纸扇开合"},
			Ignored:       []string{"expression1", "空"},
		},
		Idle: IdleConfig{
			Delay:           3500 * time.Millisecond,
			IdleAction:      "待机动作",
			InterruptAction: "打断待机",
		},
		Media: MediaConfig{
			BgmPlaylistID: 2387965986,
		},
		VTS: VTSConfig{
			URL:        "ws://127.0.0.1:8001",
			PluginName: "Live Director",
			PluginDev:  "livedirector",
			TokenFile:  filepath.Join(home, ".livedirector", ".vts_token"),
			Timeout:    10 * time.Second,
		},
		Bridges: BridgeConfig{
			TTSURL:   "http://localhost:9880",
			MediaURL: "http://localhost:9980",
			Timeout:  10 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8720",
		},
		Logging: LoggingConfig{
			Level:   "debug",
			Dir:     filepath.Join(home, ".livedirector", "logs"),
			Console: true,
		},
	}
}

// Load reads configuration from ~/.livedirector/config.yaml and environment
// variables prefixed LIVEDIRECTOR_. A missing file is created from defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LIVEDIRECTOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch re-reads the config file on change and hands the result to onChange.
// Unparseable edits are dropped; the previous configuration stays active.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to ~/.livedirector/config.yaml.
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("expressions", cfg.Expressions)
	viper.Set("idle", cfg.Idle)
	viper.Set("media", cfg.Media)
	viper.Set("vts", cfg.VTS)
	viper.Set("bridges", cfg.Bridges)
	viper.Set("server", cfg.Server)
	viper.Set("logging", cfg.Logging)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".livedirector"), nil
}

// ToggleSpecialSet returns the toggle-special names as a lookup set.
func (c *ExpressionConfig) ToggleSpecialSet() map[string]bool {
	set := make(map[string]bool, len(c.ToggleSpecial))
	for _, name := range c.ToggleSpecial {
		set[name] = true
	}
	return set
}

// IgnoredSet returns the ignored names as a lookup set.
func (c *ExpressionConfig) IgnoredSet() map[string]bool {
	set := make(map[string]bool, len(c.Ignored))
	for _, name := range c.Ignored {
		set[name] = true
	}
	return set
}
