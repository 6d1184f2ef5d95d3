package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hydroguard/pestwatch/internal/app"
	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection API",
		Long: "Serve the HTTP detection API. With the poller enabled, newest camera " +
			"records in the record store are detected in the background as well.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("host", "", "Address to bind (default from config)")
	cmd.Flags().String("port", "", "Port to listen on (default from config)")
	cmd.Flags().Bool("poller", false, "Also run the record poller")

	return conf.BindFlags(cmd.Flags(), map[string]string{
		"webserver.host": "host",
		"webserver.port": "port",
		"poller.enabled": "poller",
	})
}

// Run serves until SIGINT or SIGTERM. The server and the poller share one
// lifetime; either failing stops both.
func Run(ctx context.Context, settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.Global().Module("serve")

	a, err := app.New(ctx, settings, app.Options{Observers: true, RecordStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := a.NewServer()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if settings.Poller.Enabled {
		p, err := a.NewPoller()
		if err != nil {
			return err
		}
		g.Go(func() error { return p.Run(gctx) })
	}

	log.Info("pestwatch started",
		logger.String("version", settings.Version),
		logger.Bool("poller", settings.Poller.Enabled),
		logger.Bool("record_store", a.Records != nil))

	err = g.Wait()
	log.Info("pestwatch stopped")
	return err
}
