package conf

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags binds command flags to config keys. bindings maps a config key
// such as "webserver.port" to a flag name. An unset flag leaves the value
// from the config file, environment or defaults in place.
func BindFlags(fs *pflag.FlagSet, bindings map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(bindings)) {
		name := bindings[key]
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag --%s for %s is not defined", name, key)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag --%s: %w", name, err)
		}
	}
	return nil
}
