// Package config loads the runtime configuration from defaults, an optional
// config file and AMINO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cuemby/amino/pkg/storage"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AMINO_SYNC_SCHEDULE
const EnvPrefix = "AMINO"

type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Origin  string        `mapstructure:"origin"`
	Backend BackendConfig `mapstructure:"backend"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Network NetworkConfig `mapstructure:"network"`
	Session SessionConfig `mapstructure:"session"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StorageConfig struct {
	Drivers []string `mapstructure:"drivers"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	APIKey  string        `mapstructure:"api_key"`
}

type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type APIConfig struct {
	Addr        string   `mapstructure:"addr"`
	AllowedIPs  []string `mapstructure:"allowed_ips"`
	WriteIPs    []string `mapstructure:"write_ips"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
}

type CacheConfig struct {
	Prefix            string        `mapstructure:"prefix"`
	Version           int           `mapstructure:"version"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	RevalidateRate    float64       `mapstructure:"revalidate_rate"`
	RevalidateBurst   int           `mapstructure:"revalidate_burst"`
}

type QueueConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
}

type SyncConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

type NetworkConfig struct {
	CheckURL     string        `mapstructure:"check_url"`
	CheckAddr    string        `mapstructure:"check_addr"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	SettleWindow time.Duration `mapstructure:"settle_window"`
}

type SessionConfig struct {
	SaveInterval    time.Duration `mapstructure:"save_interval"`
	BackupRetention int           `mapstructure:"backup_retention"`
	CoalesceDelay   time.Duration `mapstructure:"coalesce_delay"`
}

// BackendURL is the backend address, defaulting to the origin
func (c *Config) BackendURL() string {
	if c.Backend.URL != "" {
		return c.Backend.URL
	}
	return c.Origin
}

// CheckURL is the connectivity probe target, defaulting to the backend.
// Network.CheckAddr replaces it with a TCP dial when set.
func (c *Config) CheckURL() string {
	if c.Network.CheckURL != "" {
		return c.Network.CheckURL
	}
	return c.BackendURL()
}

var defaults = map[string]any{
	"data_dir":                 "./amino-data",
	"log.level":                "info",
	"log.json":                 false,
	"storage.drivers":          storage.DefaultDrivers,
	"origin":                   "http://localhost:5173",
	"backend.url":              "",
	"backend.timeout":          10 * time.Second,
	"backend.api_key":          "",
	"proxy.enabled":            true,
	"proxy.addr":               "127.0.0.1:8080",
	"api.addr":                 "127.0.0.1:8090",
	"api.allowed_ips":          []string{},
	"api.write_ips":            []string{"127.0.0.1", "::1"},
	"api.cors_origins":         []string{"http://localhost:5173"},
	"api.rate_limit":           50.0,
	"api.rate_burst":           100,
	"cache.prefix":             "amino-gym",
	"cache.version":            4,
	"cache.fetch_timeout":      10 * time.Second,
	"cache.navigation_timeout": 2 * time.Second,
	"cache.revalidate_rate":    5.0,
	"cache.revalidate_burst":   10,
	"queue.batch_size":         5,
	"queue.batch_pause":        100 * time.Millisecond,
	"sync.schedule":            "@every 30s",
	"sync.settle_delay":        time.Second,
	"sync.action_timeout":      10 * time.Second,
	"network.check_url":        "",
	"network.check_addr":       "",
	"network.interval":         5 * time.Second,
	"network.timeout":          2 * time.Second,
	"network.retries":          2,
	"network.settle_window":    time.Second,
	"session.save_interval":    30 * time.Second,
	"session.backup_retention": 14,
	"session.coalesce_delay":   500 * time.Millisecond,
}

// Loader layers defaults, file, environment and bound flags
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment overrides
func NewLoader() *Loader {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Viper exposes the underlying viper instance for flag binding
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads file, or amino.{yaml,toml,json} from the working directory and
// $HOME/.amino when file is empty, and returns the validated config. A
// missing default config file is not an error.
func (l *Loader) Load(file string) (*Config, error) {
	if file != "" {
		l.v.SetConfigFile(file)
	} else {
		l.v.SetConfigName("amino")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.amino")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		splitList,
	)
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList decodes a string into a list on commas and whitespace, so
// AMINO_STORAGE_DRIVERS="sqlite file" and "sqlite,file" mean the same
var splitList mapstructure.DecodeHookFuncType = func(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	return strings.FieldsFunc(data.(string), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}), nil
}

// ConfigFile returns the file that was read, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Validate checks the values other components cannot default
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if len(c.Storage.Drivers) == 0 {
		return errors.New("storage.drivers must name at least one driver")
	}
	for _, d := range c.Storage.Drivers {
		switch d {
		case storage.DriverBolt, storage.DriverSQLite, storage.DriverFile, storage.DriverMemory:
		default:
			return fmt.Errorf("unknown storage driver %q", d)
		}
	}
	for name, raw := range map[string]string{"origin": c.Origin, "backend.url": c.BackendURL(), "network.check_url": c.CheckURL()} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Network.CheckAddr != "" {
		host, port, err := net.SplitHostPort(c.Network.CheckAddr)
		if err != nil || host == "" || port == "" {
			return fmt.Errorf("network.check_addr must be host:port, got %q", c.Network.CheckAddr)
		}
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Network.Retries < 1 {
		return fmt.Errorf("network.retries must be positive, got %d", c.Network.Retries)
	}
	if c.Cache.Version < 1 {
		return fmt.Errorf("cache.version must be positive, got %d", c.Cache.Version)
	}
	return nil
}

// Render returns the effective settings as yaml or toml. Secrets are
// masked and durations are written in their string form.
func (l *Loader) Render(format string) ([]byte, error) {
	settings := normalize(l.v.AllSettings()).(map[string]any)
	if b, ok := settings["backend"].(map[string]any); ok {
		if key, _ := b["api_key"].(string); key != "" {
			b["api_key"] = "********"
		}
	}

	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		return yaml.Marshal(settings)
	case "toml":
		return toml.Marshal(settings)
	default:
		return nil, fmt.Errorf("unsupported format %q (want yaml or toml)", format)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case time.Duration:
		return t.String()
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Keys returns every known setting key, sorted
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
