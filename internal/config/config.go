package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultListenAddr     = ":8080"
	DefaultServerURL      = "http://localhost:8080"
	DefaultPollInterval   = 2 * time.Second
	DefaultKeepAlive      = 12 * time.Minute
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultSTUNSecondary  = "stun:stun1.l.google.com:19302"
	defaultTURNPort       = 3478
	defaultTURNSecurePort = 5349
)

// Config holds application configuration for both the server and the call
// client. Each command reads the half it needs.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Client   ClientConfig `yaml:"client"`
}

// ServerConfig configures `duocall serve`.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AllowedOrigins lists browser origins allowed to call the API. A single
	// "*" allows every origin; empty allows loopback origins only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WebDir, when set, is served as static files at "/".
	WebDir string `yaml:"web_dir"`

	Metrics bool `yaml:"metrics"`
}

// ClientConfig configures `duocall call` and `duocall status`.
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ICE servers for WebRTC
	STUNServers []string `yaml:"stun_servers"`
	TURNServer  string   `yaml:"turn_server"`
	TURNUser    string   `yaml:"turn_user"`
	TURNPass    string   `yaml:"turn_pass"`
	ForceRelay  bool     `yaml:"force_relay"`

	// Local media sources and the recording directory for remote media.
	VideoFile string `yaml:"video_file"`
	AudioFile string `yaml:"audio_file"`
	RecordDir string `yaml:"record_dir"`

	KeepAlive KeepAliveConfig `yaml:"keep_alive"`
}

// KeepAliveConfig configures the hosting keep-alive pinger.
type KeepAliveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	ConfigFile string
	LogLevel   string

	ListenAddr     string
	AllowedOrigins []string
	WebDir         string
	NoMetrics      bool

	ServerURL      string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	STUNServers    []string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	VideoFile      string
	AudioFile      string
	RecordDir      string
	NoKeepAlive    bool
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			Metrics:    true,
		},
		Client: ClientConfig{
			ServerURL:    DefaultServerURL,
			PollInterval: DefaultPollInterval,
			STUNServers:  []string{DefaultSTUN, DefaultSTUNSecondary},
			KeepAlive: KeepAliveConfig{
				Enabled:  true,
				Interval: DefaultKeepAlive,
			},
		},
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file (Options.ConfigFile)
// 4. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	if opts.ConfigFile != "" {
		f, err := os.Open(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", opts.ConfigFile, err)
		}
		err = decode(f, cfg)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", opts.ConfigFile, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyOptions(cfg, opts)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Environment variables and flags are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	setBool := func(dst *bool, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}
	setDuration := func(dst *time.Duration, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, v))
			return
		}
		*dst = d
	}

	setString(&cfg.LogLevel, "LOG_LEVEL")

	// Hosting platforms hand out a bare port.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	setString(&cfg.Server.ListenAddr, "ADDR")
	setList(&cfg.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&cfg.Server.WebDir, "WEB_DIR")
	setBool(&cfg.Server.Metrics, "METRICS")

	c := &cfg.Client
	setString(&c.ServerURL, "SERVER_URL")
	setDuration(&c.PollInterval, "POLL_INTERVAL")
	setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT")
	setList(&c.STUNServers, "STUN_SERVER")
	setString(&c.TURNServer, "TURN_SERVER")
	setString(&c.TURNUser, "TURN_USERNAME")
	setString(&c.TURNPass, "TURN_PASSWORD")
	setBool(&c.ForceRelay, "FORCE_RELAY")
	setString(&c.VideoFile, "VIDEO_FILE")
	setString(&c.AudioFile, "AUDIO_FILE")
	setString(&c.RecordDir, "RECORD_DIR")
	setBool(&c.KeepAlive.Enabled, "KEEP_ALIVE")
	setDuration(&c.KeepAlive.Interval, "KEEP_ALIVE_INTERVAL")

	return errors.Join(errs...)
}

func applyOptions(cfg *Config, opts Options) {
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if opts.ListenAddr != "" {
		cfg.Server.ListenAddr = opts.ListenAddr
	}
	if len(opts.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = opts.AllowedOrigins
	}
	if opts.WebDir != "" {
		cfg.Server.WebDir = opts.WebDir
	}
	if opts.NoMetrics {
		cfg.Server.Metrics = false
	}

	c := &cfg.Client
	if opts.ServerURL != "" {
		c.ServerURL = opts.ServerURL
	}
	if opts.PollInterval != 0 {
		c.PollInterval = opts.PollInterval
	}
	if opts.RequestTimeout != 0 {
		c.RequestTimeout = opts.RequestTimeout
	}
	if len(opts.STUNServers) > 0 {
		c.STUNServers = opts.STUNServers
	}
	if opts.TURNServer != "" {
		c.TURNServer = opts.TURNServer
	}
	if opts.TURNUser != "" {
		c.TURNUser = opts.TURNUser
	}
	if opts.TURNPass != "" {
		c.TURNPass = opts.TURNPass
	}
	if opts.ForceRelay {
		c.ForceRelay = true
	}
	if opts.VideoFile != "" {
		c.VideoFile = opts.VideoFile
	}
	if opts.AudioFile != "" {
		c.AudioFile = opts.AudioFile
	}
	if opts.RecordDir != "" {
		c.RecordDir = opts.RecordDir
	}
	if opts.NoKeepAlive {
		c.KeepAlive.Enabled = false
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !validLogLevel(cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	c := cfg.Client
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.server_url %q must be an http(s) URL", c.ServerURL))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("client.poll_interval %v must be positive", c.PollInterval))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("client.request_timeout %v must not be negative", c.RequestTimeout))
	}
	if len(c.STUNServers) == 0 {
		errs = append(errs, errors.New("client.stun_servers needs at least one server"))
	}
	for i, s := range c.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			errs = append(errs, fmt.Errorf("client.stun_servers[%d] %q must start with stun: or stuns:", i, s))
		}
	}
	if c.ForceRelay && c.TURNServer == "" {
		errs = append(errs, errors.New("client.force_relay requires client.turn_server"))
	}
	if c.KeepAlive.Enabled && c.KeepAlive.Interval <= 0 {
		errs = append(errs, fmt.Errorf("client.keep_alive.interval %v must be positive", c.KeepAlive.Interval))
	}

	return errors.Join(errs...)
}

// AllowAllOrigins reports whether the origin list is the wildcard.
func (s ServerConfig) AllowAllOrigins() bool {
	return len(s.AllowedOrigins) == 1 && s.AllowedOrigins[0] == "*"
}

// GetSTUNServers returns STUN server URLs as strings
func (c ClientConfig) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c ClientConfig) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:%d?transport=udp", host, defaultTURNPort),
		fmt.Sprintf("turn:%s:%d?transport=tcp", host, defaultTURNPort),
		fmt.Sprintf("turns:%s:%d?transport=tcp", host, defaultTURNSecurePort),
	}
}

// GetTURNCredentials returns TURN username and password
func (c ClientConfig) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "dev", "development", "info", "warn", "warning", "error", "prod", "production":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
