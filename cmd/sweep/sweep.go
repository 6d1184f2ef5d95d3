package sweep

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Command creates the sweep command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply the retention limit to the image directories",
		Long:  "Delete the oldest files in the upload and output directories until each holds at most storage.maxfiles.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().Int("max-files", 0, "Files kept per directory (default from config)")
	return conf.BindFlags(cmd.Flags(), map[string]string{"storage.maxfiles": "max-files"})
}

func run(out io.Writer, settings *conf.Settings) error {
	m := diskmanager.New(diskmanager.WithLogger(logger.Global().Module("diskmanager")))

	for _, dir := range []string{settings.Storage.UploadDir, settings.Storage.OutputDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Fprintf(out, "%s: does not exist, skipped\n", dir)
			continue
		}
		res, err := m.Sweep(dir, settings.Storage.MaxFiles)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: kept %d, deleted %d (%d bytes freed)\n",
			dir, res.Kept, len(res.Deleted), res.FreedBytes)
	}
	return nil
}
