// Package config manages edgectl user-level configuration.
//
// Values are resolved in the usual viper order: command-line flag, EDGECTL_*
// environment variable, ~/.edgectl/config.yaml, built-in default. The resolved
// Config is captured once at startup and never mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ConfigDirName   = ".edgectl"
	ConfigFileName  = "config"
	EnvPrefix       = "EDGECTL"
	DefaultLogLevel = "info"
	DefaultSection  = "default"
	DefaultWorkers  = 4
	MaxWorkers      = 10

	DefaultPollInterval = 10 * time.Second
)

// Keys shared between flag binding and the config file.
const (
	KeyEdgerc           = "edgerc"
	KeySection          = "section"
	KeyAccountSwitchKey = "account_switch_key"
	KeyWorkers          = "workers"
	KeyOutputDir        = "output_dir"
	KeyLogLevel         = "log_level"
	KeyPollInterval     = "poll_interval"
	KeyConsoleURL       = "console_url"
	KeyRateLimit        = "rate_limit"
)

// Config holds the resolved settings for one CLI invocation.
type Config struct {
	Edgerc           string        `mapstructure:"edgerc"`
	Section          string        `mapstructure:"section"`
	AccountSwitchKey string        `mapstructure:"account_switch_key"`
	Workers          int           `mapstructure:"workers"`
	OutputDir        string        `mapstructure:"output_dir"`
	LogLevel         string        `mapstructure:"log_level"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ConsoleURL       string        `mapstructure:"console_url"`
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second
}

// ConfigDir returns the edgectl config directory path.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault(KeyEdgerc, filepath.Join(home, ".edgerc"))
	v.SetDefault(KeySection, DefaultSection)
	v.SetDefault(KeyAccountSwitchKey, "")
	v.SetDefault(KeyWorkers, DefaultWorkers)
	v.SetDefault(KeyOutputDir, "output")
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyConsoleURL, "https://control.akamai.com")
	v.SetDefault(KeyRateLimit, 20.0)
}

// New returns a viper instance with defaults, env binding and the optional
// config file search path applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes the result. A missing config
// file is not an error.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Workers = ClampWorkers(cfg.Workers)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return cfg, nil
}

// ClampWorkers bounds the worker pool size to [1, MaxWorkers]; zero means default.
func ClampWorkers(n int) int {
	switch {
	case n == 0:
		return DefaultWorkers
	case n < 1:
		return 1
	case n > MaxWorkers:
		return MaxWorkers
	default:
		return n
	}
}
