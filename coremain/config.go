package coremain

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/openmta/searchx/mlog"
)

type Config struct {
	Log    mlog.LogConfig `yaml:"log"`
	Lookup LookupConfig   `yaml:"lookup"`
	Driver DriverConfig   `yaml:"driver"`
	API    APIConfig      `yaml:"api"`
}

type LookupConfig struct {
	// OpenMax caps concurrently open file-backed lookup handles.
	OpenMax int `yaml:"open_max"`

	// LaxQuoting downgrades the unquoted-tainted-query deferral to a
	// warning, for compatibility with older setups.
	LaxQuoting bool `yaml:"lax_quoting"`

	// Files lists lookup files the server trusts. A file named in an
	// API request must appear here, otherwise it stays tainted and
	// the open is refused.
	Files []string `yaml:"files"`

	// WatchFiles enables change watching over Files: a change drops
	// the file's cached state so the next lookup reopens it.
	WatchFiles bool `yaml:"watch_files"`
}

type DriverConfig struct {
	DNS   DNSConfig   `yaml:"dns"`
	Redis RedisConfig `yaml:"redis"`
}

type DNSConfig struct {
	// Server addr, host or host:port. Empty uses resolv.conf.
	Server    string `yaml:"server"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search and load a file which name start with "config".
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}
