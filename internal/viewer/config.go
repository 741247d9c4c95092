package viewer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sekia-ai/kodiview/internal/resilience"
	"github.com/sekia-ai/kodiview/internal/secrets"
)

// Display modes.
const (
	DisplayWindow = "window"
	DisplayWeb    = "web"
)

// Config is the top-level viewer configuration.
type Config struct {
	Kodi       KodiConfig       `mapstructure:"kodi"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Poll       PollConfig       `mapstructure:"poll"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Display    DisplayConfig    `mapstructure:"display"`
	Web        WebConfig        `mapstructure:"web"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Security   SecurityConfig   `mapstructure:"security"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`

	// Sealed lists the keys that were stored as ENC[...] values.
	Sealed []string `mapstructure:"-"`
}

// KodiConfig holds the target Kodi instance.
type KodiConfig struct {
	Host      string `mapstructure:"host"`
	HTTPPort  int    `mapstructure:"http_port"`
	EventPort int    `mapstructure:"event_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// ScreenshotConfig controls where Kodi writes screenshots. {idx} in
// Filename is replaced with the rotation index.
type ScreenshotConfig struct {
	Dir      string `mapstructure:"dir"`
	Filename string `mapstructure:"filename"`
	Rotation int    `mapstructure:"rotation"`
}

// PollConfig holds the capture cadence.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// FetchConfig holds the VFS download policy.
type FetchConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DisplayConfig selects and sizes the display surface.
type DisplayConfig struct {
	Mode              string `mapstructure:"mode"`
	Width             int    `mapstructure:"width"`
	Height            int    `mapstructure:"height"`
	Title             string `mapstructure:"title"`
	UnchangedDistance int    `mapstructure:"unchanged_distance"`
}

// WebConfig holds the browser display listener.
type WebConfig struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// NATSConfig holds the optional bus connection. The bus is off unless URL
// is set or Embedded is true.
type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`

	// Embedded runs a broker inside the process. Listen additionally
	// exposes it to other clients on host:port.
	Embedded bool   `mapstructure:"embedded"`
	Listen   string `mapstructure:"listen"`
}

// Enabled reports whether the viewer should join a bus.
func (n NATSConfig) Enabled() bool { return n.URL != "" || n.Embedded }

// SecurityConfig holds command verification settings.
type SecurityConfig struct {
	CommandSecret string `mapstructure:"command_secret"`
}

// LoadConfig reads configuration from file, env and defaults. It does not
// validate; positional arguments are applied afterwards.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("kodi.http_port", 8080)
	v.SetDefault("kodi.event_port", 9777)
	v.SetDefault("screenshot.dir", "/var/data/userdata/screencast")
	v.SetDefault("screenshot.filename", "image{idx}.png")
	v.SetDefault("screenshot.rotation", 10)
	v.SetDefault("poll.interval", "300ms")
	v.SetDefault("fetch.attempts", resilience.DefaultAttempts)
	v.SetDefault("fetch.backoff", resilience.DefaultBackoff)
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("display.mode", DisplayWindow)
	v.SetDefault("display.width", 640)
	v.SetDefault("display.height", 360)
	v.SetDefault("display.title", "kodiview")
	v.SetDefault("display.unchanged_distance", -1)
	v.SetDefault("web.listen", "127.0.0.1:7700")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kodiview")
		v.AddConfigPath("/etc/kodiview")
		v.AddConfigPath("$HOME/.config/kodiview")
		v.AddConfigPath(".")
	}

	v.BindEnv("kodi.host", "KODI_HOST")
	v.BindEnv("kodi.http_port", "KODI_HTTP_PORT")
	v.BindEnv("kodi.event_port", "KODI_EVENT_PORT")
	v.BindEnv("kodi.username", "KODI_USERNAME")
	v.BindEnv("kodi.password", "KODI_PASSWORD")
	v.BindEnv("poll.interval", "KODI_REFRESH_INTERVAL")
	v.BindEnv("display.mode", "KODIVIEW_DISPLAY")
	v.BindEnv("web.listen", "KODIVIEW_WEB_LISTEN")
	v.BindEnv("web.username", "KODIVIEW_WEB_USERNAME")
	v.BindEnv("web.password", "KODIVIEW_WEB_PASSWORD")
	v.BindEnv("nats.url", "KODIVIEW_NATS_URL")
	v.BindEnv("nats.token", "KODIVIEW_NATS_TOKEN")
	v.BindEnv("nats.embedded", "KODIVIEW_NATS_EMBEDDED")
	v.BindEnv("security.command_secret", "KODIVIEW_COMMAND_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	opened, err := secrets.OpenConfig(v)
	if err != nil {
		return Config{}, fmt.Errorf("decrypt config: %w", err)
	}

	// The refresh interval is traditionally given in seconds ("0.3").
	interval, err := ParseInterval(v.GetString("poll.interval"))
	if err != nil {
		return Config{}, fmt.Errorf("poll.interval: %w", err)
	}
	v.Set("poll.interval", interval)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Sealed = opened
	return cfg, nil
}

// ParseInterval accepts a Go duration ("300ms") or a number of seconds
// ("0.3").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative interval %q", s)
		}
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("invalid interval %q: want seconds or a duration", s)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative interval %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ApplyArgs applies the positional arguments <host> <http-port>
// [screenshot-dir].
func (c *Config) ApplyArgs(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("expected <host> <http-port> [screenshot-dir], got %d arguments", len(args))
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid http port %q", args[1])
	}
	c.Kodi.Host = args[0]
	c.Kodi.HTTPPort = port
	if len(args) == 3 {
		c.Screenshot.Dir = args[2]
	}
	return nil
}

// Validate checks the config is usable for a capture loop.
func (c Config) Validate() error {
	if c.Kodi.Host == "" {
		return fmt.Errorf("kodi.host is required (positional argument, config file or KODI_HOST)")
	}
	if !validPort(c.Kodi.HTTPPort) {
		return fmt.Errorf("kodi.http_port %d out of range", c.Kodi.HTTPPort)
	}
	if !validPort(c.Kodi.EventPort) {
		return fmt.Errorf("kodi.event_port %d out of range", c.Kodi.EventPort)
	}
	if c.Screenshot.Dir == "" || c.Screenshot.Filename == "" {
		return fmt.Errorf("screenshot.dir and screenshot.filename are required")
	}
	if c.Screenshot.Rotation > 1 && !strings.Contains(c.Screenshot.Filename, IndexPlaceholder) {
		return fmt.Errorf("screenshot.filename %q must contain %s when rotation is %d",
			c.Screenshot.Filename, IndexPlaceholder, c.Screenshot.Rotation)
	}
	if c.NATS.URL != "" && c.NATS.Embedded {
		return fmt.Errorf("nats.url and nats.embedded are mutually exclusive")
	}
	switch c.Display.Mode {
	case DisplayWindow, DisplayWeb:
	default:
		return fmt.Errorf("display.mode %q: want %q or %q", c.Display.Mode, DisplayWindow, DisplayWeb)
	}
	return c.Settings().Validate()
}

// Settings returns the part of the config that may change while running.
func (c Config) Settings() Settings {
	return Settings{
		Interval: c.Poll.Interval,
		Attempts: c.Fetch.Attempts,
		Backoff:  c.Fetch.Backoff,
	}
}

func validPort(p int) bool { return p > 0 && p <= 65535 }
