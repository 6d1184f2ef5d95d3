// Package app assembles pestwatch's components from settings. Commands build
// one App and take the pieces they run from it.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/api"
	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/detector"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/httpclient"
	"github.com/hydroguard/pestwatch/internal/imagesource"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/mqtt"
	"github.com/hydroguard/pestwatch/internal/notification"
	"github.com/hydroguard/pestwatch/internal/observability"
	"github.com/hydroguard/pestwatch/internal/poller"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

const componentName = "app"

// Options select the optional parts of an App.
type Options struct {
	// AllowLocalPaths lets sources name files on this host. Off for anything
	// reachable over HTTP.
	AllowLocalPaths bool
	// Observers connects the MQTT publisher and the notifier when enabled in settings.
	Observers bool
	// RecordStore opens the record store when enabled in settings.
	RecordStore bool
}

// App holds the assembled components.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Client    *httpclient.Client
	Disk      *diskmanager.Manager
	Uploads   *diskmanager.Store
	Outputs   *diskmanager.Store
	Detector  detector.Detector
	Records   recordstore.Store // nil when not configured
	Processor *analysis.Processor

	log     logger.Logger
	closers []func()
}

// New builds the components named by settings and opts.
func New(ctx context.Context, settings *conf.Settings, opts Options) (*App, error) {
	a := &App{
		Settings: settings,
		log:      logger.Global().Module(componentName),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	a.Metrics = m

	a.Client = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Fetch.Timeout,
		UserAgent:      userAgent(settings),
	})
	a.closers = append(a.closers, a.Client.Close)
	m.InstrumentClient(a.Client)

	a.Disk = diskmanager.New(
		diskmanager.WithMetrics(m.DiskManager),
		diskmanager.WithLogger(logger.Global().Module("diskmanager")),
	)
	if a.Uploads, err = a.Disk.NewStore(settings.Storage.UploadDir); err != nil {
		return nil, err
	}
	if a.Outputs, err = a.Disk.NewStore(settings.Storage.OutputDir); err != nil {
		return nil, err
	}

	httpDet, err := detector.NewHTTPDetector(detector.Config{
		Endpoint:       settings.Detector.Endpoint,
		HealthEndpoint: settings.Detector.HealthEndpoint,
		Threshold:      settings.Detector.Threshold,
		Timeout:        settings.Detector.Timeout,
	}, a.Client,
		detector.WithLogger(logger.Global().Module("detector")),
		detector.WithRecorder(m.Detector))
	if err != nil {
		return nil, err
	}
	a.Detector = detector.NewSerialized(httpDet, settings.Detector.Concurrency, m.Detector)

	nz := imagesource.New(a.Client,
		imagesource.WithMaxBytes(settings.Fetch.MaxBytes),
		imagesource.WithLocalPaths(opts.AllowLocalPaths),
		imagesource.WithLogger(logger.Global().Module("imagesource")))

	procOpts := []analysis.Option{
		analysis.WithMetrics(m.Detector),
		analysis.WithLogger(logger.Global().Module("analysis")),
	}

	if opts.RecordStore && settings.RecordStore.Enabled {
		store, err := a.openRecordStore(ctx)
		if err != nil {
			return nil, err
		}
		a.Records = store
		procOpts = append(procOpts, analysis.WithRecordStore(store))
	}

	if opts.Observers {
		observers, err := a.observers(ctx)
		if err != nil {
			return nil, err
		}
		procOpts = append(procOpts, analysis.WithObservers(observers...))
	}

	a.Processor, err = analysis.NewProcessor(analysis.Config{
		PestLabel:   settings.Detector.PestLabel,
		MaxFiles:    settings.Storage.MaxFiles,
		KeepUploads: settings.Storage.KeepUploads,
		PublicURL:   settings.WebServer.PublicURL,
	}, nz, a.Detector, a.Uploads, a.Outputs, procOpts...)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) openRecordStore(ctx context.Context) (*recordstore.FirebaseStore, error) {
	rs := a.Settings.RecordStore
	return recordstore.NewFirebaseStore(ctx, recordstore.FirebaseConfig{
		URL:             rs.URL,
		Root:            rs.Root,
		Secret:          rs.Secret,
		CredentialsFile: rs.CredentialsFile,
		Timeout:         rs.Timeout,
		Fields: recordstore.Fields{
			Photo:         rs.Fields.Photo,
			PhotoDetected: rs.Fields.PhotoDetected,
			PestFlag:      rs.Fields.PestFlag,
		},
	}, a.Client, recordstore.WithLogger(logger.Global().Module("recordstore")))
}

// observers builds the enabled result observers. A broker that is down at
// startup is logged; the client keeps retrying in the background.
func (a *App) observers(ctx context.Context) ([]analysis.Observer, error) {
	var out []analysis.Observer
	s := a.Settings

	if s.MQTT.Enabled {
		clientID := s.MQTT.ClientID
		if clientID == "" {
			host, _ := os.Hostname()
			clientID = fmt.Sprintf("%s-%s", s.Main.Name, host)
		}
		mlog := logger.Global().Module("mqtt")
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   s.MQTT.Broker,
			ClientID: clientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			Topic:    s.MQTT.Topic,
			QoS:      s.MQTT.QoS,
			Retain:   s.MQTT.Retain,
		}, a.Metrics.MQTT, mlog)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			a.log.Warn("MQTT broker unreachable at startup", logger.Error(err))
		}
		pub := mqtt.NewPublisher(client, s.MQTT.Topic, 0, mlog)
		a.closers = append(a.closers, pub.Close)
		out = append(out, pub)
	}

	if s.Notification.Enabled {
		sender, err := notification.NewShoutrrrSender(s.Notification.URLs, s.Notification.Timeout)
		if err != nil {
			return nil, err
		}
		n := notification.NewNotifier(sender, notification.Config{
			Title:    s.Notification.Title,
			Cooldown: s.Notification.Cooldown,
			Timeout:  s.Notification.Timeout,
		},
			notification.WithMetrics(a.Metrics.Notification),
			notification.WithLogger(logger.Global().Module("notification")))
		a.closers = append(a.closers, n.Close)
		out = append(out, n)
	}

	return out, nil
}

// NewPoller builds the record poller. It needs the record store.
func (a *App) NewPoller() (*poller.Poller, error) {
	if a.Records == nil {
		return nil, errors.Newf("poller needs recordstore.enabled and a database URL").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := a.Settings.Poller
	return poller.New(a.Records, a.Processor, poller.Config{
		Mode:     p.Mode,
		Interval: p.Interval,
		Timeout:  p.Timeout,
		SeenTTL:  p.SeenTTL,
	},
		poller.WithMetrics(a.Metrics.Poller),
		poller.WithLogger(logger.Global().Module("poller")))
}

// NewServer builds the HTTP API over the app's components.
func (a *App) NewServer() (*api.Server, error) {
	opts := []api.ServerOption{
		api.WithProcessor(a.Processor),
		api.WithMetrics(a.Metrics),
		api.WithDiskManager(a.Disk),
	}
	if a.Records != nil {
		opts = append(opts, api.WithRecordStore(a.Records))
	}
	return api.New(a.Settings, opts...)
}

// Close releases components in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func userAgent(s *conf.Settings) string {
	name := s.Main.Name
	if name == "" {
		name = "pestwatch"
	}
	if s.Version == "" {
		return name
	}
	return name + "/" + s.Version
}
