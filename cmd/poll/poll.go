package poll

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hydroguard/pestwatch/internal/app"
	"github.com/hydroguard/pestwatch/internal/conf"
)

// Command creates the poll command.
func Command(settings *conf.Settings) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Detect new camera records without serving the API",
		Long: "Watch the record store and run detection on each new camera snapshot, " +
			"writing the annotated image URL and pest flag back onto the record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, settings, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Process the newest record once and exit")
	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("mode", "", "Poller mode: poll or stream (default from config)")
	cmd.Flags().Duration("interval", 0, "Poll mode tick (default from config)")

	return conf.BindFlags(cmd.Flags(), map[string]string{
		"poller.mode":     "mode",
		"poller.interval": "interval",
	})
}

func run(ctx context.Context, cmd *cobra.Command, settings *conf.Settings, once bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, app.Options{Observers: true, RecordStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.NewPoller()
	if err != nil {
		return err
	}

	if once {
		processed, err := p.ProcessLatest(ctx)
		if err != nil {
			return err
		}
		if processed {
			fmt.Fprintln(cmd.OutOrStdout(), "newest record processed")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to process")
		}
		return nil
	}
	return p.Run(ctx)
}
