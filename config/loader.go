package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 16181
	DefaultStoragePath    = "gtfs-ingest.db"
	DefaultReadIntervalMS = 30000
	DefaultTimeoutMS      = 10000

	// EnvPrefix marks environment variables that override config.yml.
	// GTFS_INGEST_SERVER__PORT=8080 sets server.port.
	EnvPrefix = "GTFS_INGEST_"
)

// DefaultPaths are searched in order when LoadAppConfig gets no path.
var DefaultPaths = []string{"config.yml", "./config/config.yml"}

// ErrFeedNotFound is returned by SelectFeed for an unknown feed name.
var ErrFeedNotFound = errors.New("feed not found")

// Config is the global application configuration
var Config AppConfig

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// location: an http(s) URL or a local file path
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if !strings.Contains(s, "://") {
			return strings.TrimSpace(s) != ""
		}
		u, err := url.Parse(s)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	return v
}

// LoadAppConfig loads, overlays, validates and installs the global Config.
func LoadAppConfig(paths ...string) error {
	cfg, err := Load(paths...)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

// Load reads the first readable file among paths (DefaultPaths when empty).
func Load(paths ...string) (AppConfig, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var data []byte
	var err error
	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return AppConfig{}, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and validates.
func Parse(data []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config: %w", err)
	}
	if err := overlayEnv(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("environment overrides: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate.Struct(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func overlayEnv(cfg *AppConfig) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return err
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Ingest.LogLevel == "" {
		cfg.Ingest.LogLevel = "info"
	}
	rtDefaults(&cfg.GTFSRT)
	for i := range cfg.Feeds {
		rtDefaults(&cfg.Feeds[i].GTFSRT)
	}
}

func rtDefaults(rt *GTFSRTConfig) {
	if rt.ReadIntervalMS == 0 {
		rt.ReadIntervalMS = DefaultReadIntervalMS
	}
	if rt.TimeoutMS == 0 {
		rt.TimeoutMS = DefaultTimeoutMS
	}
}

// FeedList returns the configured feeds. Without a feeds section the top-level
// gtfs/gtfsrt blocks form a single feed named "default".
func (c AppConfig) FeedList() []Feed {
	if len(c.Feeds) > 0 {
		return c.Feeds
	}
	if c.GTFS.StaticURL == "" && len(c.GTFSRT.Locations()) == 0 {
		return nil
	}
	return []Feed{{Name: "default", GTFS: c.GTFS, GTFSRT: c.GTFSRT}}
}

// SelectFeed chooses a feed by name; an empty name selects the first feed.
func (c AppConfig) SelectFeed(name string) (Feed, error) {
	feeds := c.FeedList()
	if len(feeds) == 0 {
		return Feed{}, fmt.Errorf("%w: no feeds configured", ErrFeedNotFound)
	}
	if name == "" {
		return feeds[0], nil
	}
	for _, f := range feeds {
		if f.Name == name {
			return f, nil
		}
	}
	return Feed{}, fmt.Errorf("%w: %q", ErrFeedNotFound, name)
}
