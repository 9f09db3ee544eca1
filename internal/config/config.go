// Package config loads the service configuration from a YAML file, .env files
// and REPOEVENTS_ environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "REPOEVENTS"
	DefaultName = "repoevents"
)

type Config struct {
	Service    ServiceConfig    `mapstructure:"service" yaml:"service"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Env  string `mapstructure:"env" yaml:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// File tees the JSON log into a file when set.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Subsystem string `mapstructure:"subsystem" yaml:"subsystem,omitempty"`
}

// RedisConfig enables the Redis idempotency store. An empty Addr keeps the
// markers in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr,omitempty"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db,omitempty"`
}

type DispatcherConfig struct {
	Name            string           `mapstructure:"name" yaml:"name"`
	Consolidate     bool             `mapstructure:"consolidate" yaml:"consolidate"`
	InitConcurrency int              `mapstructure:"init_concurrency" yaml:"init_concurrency"`
	MaxRounds       int              `mapstructure:"max_rounds" yaml:"max_rounds"`
	Consumers       []ConsumerConfig `mapstructure:"consumers" yaml:"consumers"`
}

type ConsumerConfig struct {
	Name           string         `mapstructure:"name" yaml:"name"`
	Implementation string         `mapstructure:"implementation" yaml:"implementation"`
	EventTypes     []string       `mapstructure:"event_types" yaml:"event_types,omitempty"`
	SubjectTypes   []string       `mapstructure:"subject_types" yaml:"subject_types,omitempty"`
	Filters        []string       `mapstructure:"filters" yaml:"filters,omitempty"`
	FatalOnError   bool           `mapstructure:"fatal_on_error" yaml:"fatal_on_error,omitempty"`
	AlwaysRun      bool           `mapstructure:"always_run" yaml:"always_run,omitempty"`
	Options        map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// BuildConfig converts the dispatcher section for dispatch.Build.
func (c DispatcherConfig) BuildConfig() dispatch.BuildConfig {
	defs := make([]dispatch.Definition, 0, len(c.Consumers))
	for _, cc := range c.Consumers {
		defs = append(defs, dispatch.Definition{
			Name:           cc.Name,
			Implementation: cc.Implementation,
			EventTypes:     cc.EventTypes,
			SubjectTypes:   cc.SubjectTypes,
			Filters:        cc.Filters,
			FatalOnError:   cc.FatalOnError,
			AlwaysRun:      cc.AlwaysRun,
			Options:        cc.Options,
		})
	}
	return dispatch.BuildConfig{
		Name:            c.Name,
		Consolidate:     c.Consolidate,
		Consumers:       defs,
		InitConcurrency: c.InitConcurrency,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", DefaultName)
	v.SetDefault("service.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("metrics.namespace", DefaultName)
	v.SetDefault("metrics.subsystem", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("dispatcher.name", "default")
	v.SetDefault("dispatcher.consolidate", false)
	v.SetDefault("dispatcher.init_concurrency", 4)
	v.SetDefault("dispatcher.max_rounds", 8)
}

// Load reads the configuration. With an empty path it looks for
// repoevents.yaml in the working directory and runs on defaults when there is
// none; an explicit path must exist.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the service cannot start without. Consumer
// entries are validated when the dispatcher is built.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Name == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Dispatcher.Name == "" {
		errs = append(errs, errors.New("dispatcher.name is required"))
	}
	if c.Dispatcher.MaxRounds <= 0 {
		errs = append(errs, errors.New("dispatcher.max_rounds must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Render returns the effective configuration as YAML. Secrets are omitted.
func (c *Config) Render() ([]byte, error) {
	return yaml.Marshal(c)
}

// loadEnvFiles loads .env then .env.local. Variables already set win.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}
