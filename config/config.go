package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkettu/huddle/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultReplayLimit  = 200
	defaultRetentionJob = "@hourly"
)

// Config is the global configuration object which is filled from the
// configuration file, environment (HUDDLE_ prefix) and command line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RetentionConfig   RetentionConfig   `mapstructure:"retention"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
}

// HistoryConfig caps the number of messages replayed to a connection when
// it joins a room (0 means replay everything) and overrides the interval
// during which a sender may still edit a message (0 keeps the default).
type HistoryConfig struct {
	ReplayLimit       int `mapstructure:"replay_limit"`
	EditWindowMinutes int `mapstructure:"edit_window_minutes"`
}

// PersistenceConfig selects the persistence backend. Type is one of
// "buntdb", "sqlite", "postgres" or "memory" (the default).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// RetentionConfig configures the scheduled purge of old messages.
// MaxAgeDays <= 0 disables the purge.
type RetentionConfig struct {
	MaxAgeDays int    `mapstructure:"max_age_days"`
	CronSpec   string `mapstructure:"cron_spec"`
}

// An OIDCConfig object configures an OpenID Connect provider used to
// verify the identity a connection presents before announcing presence.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE/DEBUG/INFO/WARN/ERROR)")
	return flagSet
}

// wordSepNormalizeFunc maps flag names (- separated) to config keys (_ separated)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("history.replay_limit", defaultReplayLimit)
	viper.SetDefault("retention.cron_spec", defaultRetentionJob)
	if err := viper.BindPFlags(flagSet); err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("HUDDLE")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}
	return &cfg, nil
}
