package conf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

const (
	appDirName = "pestwatch"
	osWindows  = "windows"
)

// GetLogger returns the config package logger. It is fetched from the global
// logger each time because the central logger is installed after settings load.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// GetDefaultConfigPaths returns the directories searched for config.yaml. When a
// config.yaml exists in one of them, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "get-executable-path").
				Build()
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", appDirName),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appDirName),
			"/etc/" + appDirName,
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// FindConfigFile locates the configuration file in use.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}
	return "", errors.Newf("config file not found").
		Component("conf").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}

// moveFile moves src to dst, copying when a rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src) //nolint:gosec // G304: path created by this package
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.Create(dst) //nolint:gosec // G304: caller supplied config path
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}
	return nil
}
