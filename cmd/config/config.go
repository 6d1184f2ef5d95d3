package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hydroguard/pestwatch/internal/conf"
)

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	var savePath string
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: "Print the configuration after defaults, config file, environment and flags " +
			"are merged. Credentials are masked unless --show-secrets is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := settings
			if !showSecrets {
				out = settings.Redacted()
			}
			if savePath != "" {
				if err := conf.SaveYAMLConfig(savePath, settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "configuration written to %s\n", savePath)
				return nil
			}
			data, err := yaml.Marshal(out)
			if err != nil {
				return fmt.Errorf("error marshaling settings to YAML: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&savePath, "save", "", "Write the effective configuration to this file instead of printing it")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print credentials in clear text")

	return cmd
}
