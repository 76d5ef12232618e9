package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server  ServerConfig
	Catalog CatalogConfig
	Player  PlayerConfig
	Store   StoreConfig
	Redis   RedisConfig
	History HistoryConfig
	Serial  SerialConfig

	// Output format template for the now command
	// Default: "{{.Artist}} - {{.Title}}"
	OutputFormat string

	// Fixed output width for the now command (0 = disabled)
	OutputWidth int

	// Marquee scrolling for text wider than OutputWidth
	MarqueeEnabled   bool
	MarqueeSpeed     int // characters per second
	MarqueeSeparator string

	// Poll interval for the TUI
	PollInterval time.Duration
}

// ServerConfig configures the HTTP server and how clients reach it
type ServerConfig struct {
	Addr string // listen address for serve
	URL  string // base URL used by remote commands
}

// CatalogConfig configures the song catalog file
type CatalogConfig struct {
	Path        string
	Watch       bool
	LoadTimeout time.Duration
	Retries     int
}

// PlayerConfig holds playback policies
type PlayerConfig struct {
	Fallback   string // first | index
	SeekPolicy string // ignore | reject
}

// StoreConfig selects where playback state is persisted
type StoreConfig struct {
	Kind string // memory | file | redis
	Path string
}

// RedisConfig configures the redis state store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// HistoryConfig configures the command history database
type HistoryConfig struct {
	Enabled bool
	Path    string
	MaxAge  time.Duration
}

// SerialConfig configures the serial button adapter
type SerialConfig struct {
	Port     string
	Baud     int
	Retry    time.Duration
	Commands map[string]string
}

// Load reads configuration from .env, the config file and environment.
// Variables are named NOWPLAYING_<SECTION>_<KEY>, e.g. NOWPLAYING_STORE_KIND.
func Load() (*Config, error) {
	// .env never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config file locations (in order of precedence)
	v.AddConfigPath(getConfigDir())
	v.AddConfigPath(".")

	setDefaults(v)

	// Read config file (optional - don't fail if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("NOWPLAYING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.url", "http://localhost:5000")

	v.SetDefault("catalog.path", "songs.json")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.load_timeout", 2*time.Second)
	v.SetDefault("catalog.retries", 3)

	v.SetDefault("player.fallback", "first")
	v.SetDefault("player.seek_policy", "ignore")

	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.path", filepath.Join(dataDir, "current.json"))

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "nowplaying:playback")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(dataDir, "history.db"))
	v.SetDefault("history.max_age", 7*24*time.Hour)

	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.retry", 2*time.Second)
	v.SetDefault("serial.commands", map[string]string{
		"play":  "play_pause",
		"pause": "play_pause",
		"next":  "next",
		"prev":  "prev",
	})

	v.SetDefault("output_format", "{{.Artist}} - {{.Title}}")
	v.SetDefault("output_width", 0)
	v.SetDefault("marquee_enabled", false)
	v.SetDefault("marquee_speed", 2)
	v.SetDefault("marquee_separator", " • ")
	v.SetDefault("poll_interval", time.Second)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
			URL:  v.GetString("server.url"),
		},
		Catalog: CatalogConfig{
			Path:        v.GetString("catalog.path"),
			Watch:       v.GetBool("catalog.watch"),
			LoadTimeout: v.GetDuration("catalog.load_timeout"),
			Retries:     v.GetInt("catalog.retries"),
		},
		Player: PlayerConfig{
			Fallback:   v.GetString("player.fallback"),
			SeekPolicy: v.GetString("player.seek_policy"),
		},
		Store: StoreConfig{
			Kind: v.GetString("store.kind"),
			Path: v.GetString("store.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Key:      v.GetString("redis.key"),
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			Path:    v.GetString("history.path"),
			MaxAge:  v.GetDuration("history.max_age"),
		},
		Serial: SerialConfig{
			Port:     v.GetString("serial.port"),
			Baud:     v.GetInt("serial.baud"),
			Retry:    v.GetDuration("serial.retry"),
			Commands: v.GetStringMapString("serial.commands"),
		},
		OutputFormat:     v.GetString("output_format"),
		OutputWidth:      v.GetInt("output_width"),
		MarqueeEnabled:   v.GetBool("marquee_enabled"),
		MarqueeSpeed:     v.GetInt("marquee_speed"),
		MarqueeSeparator: v.GetString("marquee_separator"),
		PollInterval:     v.GetDuration("poll_interval"),
	}
}

// getConfigDir returns the configuration directory path
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".config", "nowplaying")
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

// GetDataDir returns the directory for state and history files
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share", "nowplaying")
}
