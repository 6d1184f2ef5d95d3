// config.go: settings structure, loading and saving
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hydroguard/pestwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the complete runtime configuration.
type Settings struct {
	Debug   bool   `yaml:"debug"`
	Version string `yaml:"-"` // build version, set by main

	Main         MainSettings         `yaml:"main"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Detector     DetectorSettings     `yaml:"detector"`
	Storage      StorageSettings      `yaml:"storage"`
	Fetch        FetchSettings        `yaml:"fetch"`
	RecordStore  RecordStoreSettings  `yaml:"recordstore"`
	Poller       PollerSettings       `yaml:"poller"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Notification NotificationSettings `yaml:"notification"`
	Sentry       SentrySettings       `yaml:"sentry"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
}

// MainSettings holds service identity.
type MainSettings struct {
	Name   string `yaml:"name"`   // service name, used as MQTT client ID prefix and user agent
	Banner string `yaml:"banner"` // message returned by GET /
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Host            string            `yaml:"host"`
	Port            string            `yaml:"port"`
	PublicURL       string            `yaml:"publicurl"` // base for photo_detected links; empty derives it from the request
	AllowedOrigins  []string          `yaml:"allowedorigins"`
	BodyLimit       string            `yaml:"bodylimit"` // echo size notation, e.g. "20M"
	ReadTimeout     time.Duration     `yaml:"readtimeout"`
	WriteTimeout    time.Duration     `yaml:"writetimeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdowntimeout"`
	RateLimit       RateLimitSettings `yaml:"ratelimit"`
}

// RateLimitSettings configures the global request cap on / and /upload.
type RateLimitSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"` // calls allowed per window
	Window   time.Duration `yaml:"window"`
}

// DetectorSettings configures the remote inference service.
type DetectorSettings struct {
	Endpoint       string        `yaml:"endpoint"`       // URL receiving multipart image posts
	HealthEndpoint string        `yaml:"healthendpoint"` // optional; defaults to <endpoint origin>/health
	Threshold      float64       `yaml:"threshold"`      // minimum confidence kept
	Timeout        time.Duration `yaml:"timeout"`
	Concurrency    int64         `yaml:"concurrency"` // concurrent inference calls allowed
	PestLabel      string        `yaml:"pestlabel"`   // label that sets the pest flag
}

// StorageSettings configures the capped local image cache.
type StorageSettings struct {
	UploadDir   string `yaml:"uploaddir"`
	OutputDir   string `yaml:"outputdir"`
	MaxFiles    int    `yaml:"maxfiles"`    // files kept per directory after a sweep
	KeepUploads bool   `yaml:"keepuploads"` // false removes the ingested original after detection
}

// FetchSettings bounds URL ingestion.
type FetchSettings struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxbytes"`
}

// RecordStoreSettings configures the Firebase Realtime Database record store.
type RecordStoreSettings struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`             // database URL, e.g. https://project-default-rtdb.firebaseio.com
	Root            string        `yaml:"root"`            // node holding date/time keyed records
	Secret          string        `yaml:"secret"`          // legacy database secret, sent as ?auth=
	CredentialsFile string        `yaml:"credentialsfile"` // service account JSON, preferred over Secret
	Timeout         time.Duration `yaml:"timeout"`
	Fields          RecordFields  `yaml:"fields"`
}

// RecordFields names the record properties read and written.
type RecordFields struct {
	Photo         string `yaml:"photo"`         // original snapshot URL
	PhotoDetected string `yaml:"photodetected"` // annotated image URL, written back
	PestFlag      string `yaml:"pestflag"`      // "true"/"false", written back
}

// PollerSettings configures the background record processor.
type PollerSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Mode     string        `yaml:"mode"` // poll or stream
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"` // per-record processing budget
	SeenTTL  time.Duration `yaml:"seenttl"` // how long processed keys are remembered
}

// MQTTSettings configures the optional detection publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"clientid"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// NotificationSettings configures pest alerts.
type NotificationSettings struct {
	Enabled  bool          `yaml:"enabled"`
	URLs     []string      `yaml:"urls"` // shoutrrr service URLs
	Title    string        `yaml:"title"`
	Cooldown time.Duration `yaml:"cooldown"` // minimum gap between alerts
	Timeout  time.Duration `yaml:"timeout"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled"`
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"samplerate"`
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, environment variables and bound flags.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
// An explicit file set with viper.SetConfigFile takes precedence over the search paths.
func initViper() error {
	viper.SetConfigType("yaml")

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config to the first default path and reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the embedded default config.yaml.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				GetLogger().Error("error loading settings", logger.Error(err))
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath through a temporary file so a
// crash never leaves a truncated config behind. Comments are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}
	return nil
}

// Redacted returns a copy with credentials masked, for printing.
func (s *Settings) Redacted() *Settings {
	c := *s
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.RecordStore.Secret = mask(c.RecordStore.Secret)
	c.MQTT.Password = mask(c.MQTT.Password)
	c.Sentry.DSN = mask(c.Sentry.DSN)
	if len(c.Notification.URLs) > 0 {
		c.Notification.URLs = make([]string, len(s.Notification.URLs))
		for i := range c.Notification.URLs {
			c.Notification.URLs[i] = "[REDACTED]"
		}
	}
	return &c
}
