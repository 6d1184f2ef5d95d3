// rotation.go
package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls size and age based rotation of the log file.
type RotationConfig struct {
	MaxSize    int // megabytes before rotation, 0 disables rotation
	MaxAge     int // days to keep rotated files, 0 keeps them
	MaxBackups int // rotated files to keep, 0 keeps them all
	Compress   bool
}

// RotationConfigFromFileOutput extracts the rotation settings of out.
func RotationConfigFromFileOutput(out *FileOutput) RotationConfig {
	if out == nil {
		return RotationConfig{}
	}
	return RotationConfig{
		MaxSize:    out.MaxSize,
		MaxAge:     out.MaxAge,
		MaxBackups: out.MaxRotatedFiles,
		Compress:   out.Compress,
	}
}

// IsEnabled reports whether the file should be rotated.
func (r RotationConfig) IsEnabled() bool {
	return r.MaxSize > 0
}

// newRotatingWriter returns a writer for path that rotates per r. The
// directory must already exist.
func newRotatingWriter(path string, r RotationConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSize,
		MaxAge:     r.MaxAge,
		MaxBackups: r.MaxBackups,
		Compress:   r.Compress,
	}
}
