package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel" mapstructure:"defaultlevel"` // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`         // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`           // console output configuration
	FileOutput   *FileOutput       `yaml:"fileoutput" mapstructure:"fileoutput"`     // file output configuration
	ModuleLevels map[string]string `yaml:"modulelevels" mapstructure:"modulelevels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is human-readable text without timestamps; journald and Docker add them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration.
// File output is JSON with RFC3339 timestamps for log aggregation.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	Level           string `yaml:"level" mapstructure:"level"`
	MaxSize         int    `yaml:"maxsize" mapstructure:"maxsize"`                 // megabytes before rotation (0 = disabled)
	MaxAge          int    `yaml:"maxage" mapstructure:"maxage"`                   // days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"maxrotatedfiles" mapstructure:"maxrotatedfiles"` // rotated logs to keep (0 = no limit)
	Compress        bool   `yaml:"compress" mapstructure:"compress"`               // gzip rotated logs
}

const (
	DefaultLogLevel       = "info"
	DefaultLogPath        = "logs/pestwatch.log"
	DefaultConsoleEnabled = true
)

// applyConfigDefaults fills nil output sections so an older config without them
// still logs to the console instead of silently logging nowhere.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: DefaultConsoleEnabled, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{Enabled: false, Path: DefaultLogPath, Level: cfg.DefaultLevel}
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
	if cfg.FileOutput.Level == "" {
		cfg.FileOutput.Level = cfg.DefaultLevel
	}
}
