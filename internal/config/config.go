package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads file into config, which must be a pointer to a struct. The struct's current
// values are the defaults. Environment variables override both, named after the key path
// with dots replaced by underscores (store.driver -> STORE_DRIVER). An empty file skips
// the file layer.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("config: decode defaults: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("config: merge defaults: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("config: unmarshal: %v", err)
	}

	return nil
}
