package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type options struct {
	envPrefix string
}

type Option func(o *options)

// WithEnvPrefix makes environment overrides look like PREFIX_SESSION_ROLE.
func WithEnvPrefix(p string) Option {
	return func(o *options) {
		o.envPrefix = p
	}
}

// Load config from file into the config struct, config must be a pointer to the config struct.
// The values already in config are the defaults. Every key can be overridden from the
// environment, nested keys are joined by underscores. An empty file loads the environment only.
func Load(file string, config any, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	m := make(map[string]any)

	// Registering every key up front lets AutomaticEnv see keys the file does not set.
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	if o.envPrefix != "" {
		v.SetEnvPrefix(o.envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
