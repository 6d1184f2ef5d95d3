package cmd

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hydroguard/pestwatch/cmd/config"
	"github.com/hydroguard/pestwatch/cmd/detect"
	"github.com/hydroguard/pestwatch/cmd/poll"
	"github.com/hydroguard/pestwatch/cmd/serve"
	"github.com/hydroguard/pestwatch/cmd/sweep"
	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:          "pestwatch",
		Short:        "Pest detection service for hydroponic greenhouses",
		SilenceUsage: true,
		Version:      settings.Version,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		poll.Command(settings),
		detect.Command(settings),
		sweep.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cl, err := initialize(settings, configFile)
		if err != nil {
			return err
		}
		central = cl
		return nil
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Sentry.Enabled {
			sentry.Flush(2 * time.Second)
		}
		if central != nil {
			return central.Close()
		}
		return nil
	}

	return rootCmd
}

// initialize loads settings and sets up logging and error telemetry before a
// subcommand runs.
func initialize(settings *conf.Settings, configFile string) (*logger.CentralLogger, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	loaded, err := conf.Load()
	if err != nil {
		return nil, err
	}
	version := settings.Version
	*settings = *loaded
	settings.Version = version

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Sentry.Enabled {
		if _, err := errors.InitSentry(errors.SentryOptions{
			DSN:         settings.Sentry.DSN,
			Environment: settings.Sentry.Environment,
			Release:     "pestwatch@" + settings.Version,
			SampleRate:  settings.Sentry.SampleRate,
			Debug:       settings.Debug,
		}); err != nil {
			logger.Global().Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return cl, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
