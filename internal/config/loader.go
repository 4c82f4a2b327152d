package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads ralex.yaml from the given path (or RALEX_CONFIG_PATH when path
// is empty) and merges it over DefaultConfig. Environment variables prefixed
// RALEX_ override file values (e.g. RALEX_BUDGET_DAILY_LIMIT_USD).
//
// A missing config file is not an error: the defaults plus environment are
// returned, matching the degrade-gracefully policy for configuration IO.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RALEX_CONFIG_PATH")
	}

	v := viper.New()
	v.SetEnvPrefix("RALEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	// Register every default key with viper. AutomaticEnv only consults the
	// environment for keys viper already knows about, so without this the
	// RALEX_* overrides would never apply when the key is absent from the
	// file.
	defaults, err := defaultKeys(cfg)
	if err != nil {
		return nil, fmt.Errorf("register defaults: %w", err)
	}
	setDefaults(v, "", defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// Environment values arrive as strings; decode them weakly so
	// RALEX_BUDGET_DAILY_LIMIT_USD=0.42 lands in a float64 field.
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// defaultKeys flattens the default config into the nested map shape viper
// expects, via the same yaml tags the file loader uses.
func defaultKeys(cfg *Config) (map[string]interface{}, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]interface{}) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
