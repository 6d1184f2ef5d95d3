package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hydroguard/pestwatch/internal/api"
	"github.com/hydroguard/pestwatch/internal/app"
	"github.com/hydroguard/pestwatch/internal/conf"
)

// Command creates the detect command.
func Command(settings *conf.Settings) *cobra.Command {
	var latest bool

	cmd := &cobra.Command{
		Use:   "detect [source]",
		Short: "Run detection on one image and print the result as JSON",
		Long: "Run detection on a local file, an http(s) URL or a data URI. With --latest " +
			"the newest record in the record store is detected and updated instead.",
		Args: func(cmd *cobra.Command, args []string) error {
			if latest {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) > 0 {
				source = args[0]
			}
			return run(cmd.Context(), cmd.OutOrStdout(), settings, source, latest)
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "Detect the newest record in the record store")
	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().Float64("threshold", 0, "Minimum detection confidence (default from config)")
	return conf.BindFlags(cmd.Flags(), map[string]string{"detector.threshold": "threshold"})
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings, source string, latest bool) error {
	a, err := app.New(ctx, settings, app.Options{AllowLocalPaths: true, RecordStore: latest})
	if err != nil {
		return err
	}
	defer a.Close()

	var resp api.DetectionResponse
	if latest {
		if a.Records == nil {
			return fmt.Errorf("--latest needs recordstore.enabled and a database URL")
		}
		rec, err := a.Records.Latest(ctx)
		if err != nil {
			return err
		}
		res, err := a.Processor.DetectRecord(ctx, rec, "")
		if err != nil {
			return err
		}
		resp = api.NewDetectionResponse(res)
	} else {
		res, err := a.Processor.ProcessSource(ctx, source, "")
		if err != nil {
			return err
		}
		resp = api.NewDetectionResponse(res)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
