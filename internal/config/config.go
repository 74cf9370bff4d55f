// Package config loads run settings from defaults, an optional YAML
// file, PROXYSWEEP_* environment variables and CLI flag overrides, in
// that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings is the full configuration surface of the tool. The check
// section maps directly onto one run of the validation engine.
type Settings struct {
	Check  CheckSettings  `mapstructure:"check" validate:"required"`
	Output OutputSettings `mapstructure:"output" validate:"required"`
	Geo    GeoSettings    `mapstructure:"geo"`
}

type CheckSettings struct {
	TargetURL   string        `mapstructure:"target_url" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=5m"`
	Concurrency int           `mapstructure:"concurrency" validate:"required,min=1,max=500"`
	Retries     int           `mapstructure:"retries" validate:"min=0,max=10"`
	UserAgent   string        `mapstructure:"user_agent"`
	TopFastest  int           `mapstructure:"top_fastest" validate:"min=0,max=100"`
}

type OutputSettings struct {
	Format string `mapstructure:"format" validate:"required,oneof=txt csv json"`
}

type GeoSettings struct {
	DatabasePath string `mapstructure:"database_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check.target_url", "http://www.google.com")
	v.SetDefault("check.timeout", "10s")
	v.SetDefault("check.concurrency", 10)
	v.SetDefault("check.retries", 0)
	v.SetDefault("check.user_agent", "")
	v.SetDefault("check.top_fastest", 10)

	v.SetDefault("output.format", "txt")

	v.SetDefault("geo.database_path", "")
}

// Load reads configuration. A missing config file is not an error; the
// defaults and environment are enough to run.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	return load(v, configPath)
}

// Viper exposes a configured viper instance so the CLI can bind flag
// overrides before Load resolves the final settings.
func Viper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PROXYSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Resolve unmarshals and validates the settings held by v.
func Resolve(v *viper.Viper, configPath string) (*Settings, error) {
	return load(v, configPath)
}

func load(v *viper.Viper, configPath string) (*Settings, error) {
	setDefaults(v)

	v.SetEnvPrefix("PROXYSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("proxysweep")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.proxysweep")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &s, nil
}
