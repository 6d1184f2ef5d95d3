// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the service.
const EnvPrefix = "PESTWATCH"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly bound variables. Every other key is still
// reachable through AutomaticEnv as PESTWATCH_<SECTION>_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"webserver.port", "PESTWATCH_PORT", validateEnvPort},
		{"webserver.publicurl", "PESTWATCH_PUBLIC_URL", validateEnvURL},
		{"detector.endpoint", "PESTWATCH_DETECTOR_URL", validateEnvURL},
		{"detector.threshold", "PESTWATCH_DETECTOR_THRESHOLD", validateEnvUnitFloat},
		{"storage.maxfiles", "PESTWATCH_MAX_FILES", validateEnvPositiveInt},
		{"recordstore.url", "PESTWATCH_FIREBASE_URL", validateEnvURL},
		{"recordstore.secret", "PESTWATCH_FIREBASE_SECRET", nil},
		{"recordstore.credentialsfile", "GOOGLE_APPLICATION_CREDENTIALS", nil},
		{"mqtt.password", "PESTWATCH_MQTT_PASSWORD", nil},
		{"sentry.dsn", "PESTWATCH_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func validateEnvUnitFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}
