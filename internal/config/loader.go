package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all service settings.
const envPrefix = "LEAFSIGHT"

// Sentinel errors returned (wrapped) by Load.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigParseError   = errors.New("config file could not be parsed")
	ErrConfigInvalid      = errors.New("config validation failed")
	ErrEnvFileNotLoaded   = errors.New("env file could not be loaded")
)

// loadOptions collects the inputs of Load.
type loadOptions struct {
	configPath string
	envFiles   []string
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithConfigPath reads the YAML file at path before applying environment
// overrides.
func WithConfigPath(path string) LoadOption {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnvFiles loads the given dotenv files into the process environment
// before viper reads it.  Variables already present in the environment win.
func WithEnvFiles(paths ...string) LoadOption {
	return func(o *loadOptions) { o.envFiles = append(o.envFiles, paths...) }
}

// newViper builds a pre-configured Viper instance with the service's standard
// settings: YAML file type, LEAFSIGHT_ env prefix, automatic env binding, and a
// key replacer that maps "." → "_" so that nested keys like "postgres.host"
// resolve to "LEAFSIGHT_POSTGRES_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")
	return v
}

var durationType = reflect.TypeOf(time.Duration(0))

// bindEnvKeys registers every leaf key of t so that Unmarshal sees
// environment overrides even when no config file mentions the key.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		if strings.Contains(opts, "squash") {
			bindEnvKeys(v, f.Type, prefix)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		key := prefix + name
		if f.Type.Kind() == reflect.Struct && f.Type != durationType {
			bindEnvKeys(v, f.Type, key+".")
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load builds a Config from an optional YAML file plus LEAFSIGHT_* environment
// variable overrides, applies service defaults for unset fields, and
// validates the result.  With no options it reads the environment only, which
// is the preferred strategy for containerised (12-factor) deployments.
//
// Environment variable naming convention:
//
//	LEAFSIGHT_<SECTION>_<FIELD>   e.g.  LEAFSIGHT_POSTGRES_HOST, LEAFSIGHT_REDIS_ADDR
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return nil, fmt.Errorf("config: %w: %v", ErrEnvFileNotLoaded, err)
		}
	}

	v := newViper()
	if o.configPath != "" {
		if _, err := os.Stat(o.configPath); err != nil {
			return nil, fmt.Errorf("config: %w: %q: %v", ErrConfigFileNotFound, o.configPath, err)
		}
		v.SetConfigFile(o.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: %w: %q: %v", ErrConfigParseError, o.configPath, err)
		}
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from environment variables, with no
// config file required.
func LoadFromEnv() (*Config, error) {
	return Load()
}

// LoadDotEnv loads ./.env (or the given files) into the process environment
// when present.  A missing default file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("config: %w: %v", ErrEnvFileNotLoaded, err)
	}
	return nil
}

// unmarshalAndFinalize unmarshals viper state into a Config struct, applies
// defaults, and validates the result.
func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w: failed to unmarshal configuration: %v", ErrConfigParseError, err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  It is intended for
// hot-reloading non-critical settings such as log level and rate-limit
// thresholds; callers are responsible for applying only the safe subset of
// changes at runtime.
//
// Watch is non-blocking; it starts a background goroutine managed by viper.
// A change that fails to parse or validate is reported to onError (when
// non-nil) and onChange is not called.
func Watch(configPath string, onChange func(*Config, fsnotify.Event), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: %w: %q: %v", ErrConfigParseError, configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is a convenience wrapper around Load that panics on any error.
// It is intended for use in main() where a config-load failure is always fatal.
func MustLoad(opts ...LoadOption) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
