// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultPestLabel is the detector class that marks a pest (caterpillar).
const DefaultPestLabel = "ulat"

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "pestwatch")
	viper.SetDefault("main.banner", "API Model AI Next-Gen Hydroponics")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/pestwatch.log")
	viper.SetDefault("logging.fileoutput.level", "info")
	viper.SetDefault("logging.fileoutput.maxsize", 100)
	viper.SetDefault("logging.fileoutput.maxage", 28)
	viper.SetDefault("logging.fileoutput.maxrotatedfiles", 3)
	viper.SetDefault("logging.fileoutput.compress", false)

	viper.SetDefault("webserver.host", "127.0.0.1")
	viper.SetDefault("webserver.port", "8001")
	viper.SetDefault("webserver.publicurl", "")
	viper.SetDefault("webserver.allowedorigins", []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:8000",
	})
	viper.SetDefault("webserver.bodylimit", "20M")
	viper.SetDefault("webserver.readtimeout", 30*time.Second)
	viper.SetDefault("webserver.writetimeout", 60*time.Second)
	viper.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	viper.SetDefault("webserver.ratelimit.enabled", true)
	viper.SetDefault("webserver.ratelimit.requests", 100)
	viper.SetDefault("webserver.ratelimit.window", 60*time.Second)

	viper.SetDefault("detector.endpoint", "http://127.0.0.1:5000/predict")
	viper.SetDefault("detector.healthendpoint", "")
	viper.SetDefault("detector.threshold", 0.5)
	viper.SetDefault("detector.timeout", 30*time.Second)
	viper.SetDefault("detector.concurrency", 1)
	viper.SetDefault("detector.pestlabel", DefaultPestLabel)

	viper.SetDefault("storage.uploaddir", "uploads")
	viper.SetDefault("storage.outputdir", "detectedImages")
	viper.SetDefault("storage.maxfiles", 50)
	viper.SetDefault("storage.keepuploads", true)

	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.maxbytes", 20<<20)

	viper.SetDefault("recordstore.enabled", false)
	viper.SetDefault("recordstore.url", "")
	viper.SetDefault("recordstore.root", "camera")
	viper.SetDefault("recordstore.secret", "")
	viper.SetDefault("recordstore.credentialsfile", "")
	viper.SetDefault("recordstore.timeout", 10*time.Second)
	viper.SetDefault("recordstore.fields.photo", "photo")
	viper.SetDefault("recordstore.fields.photodetected", "photo_detected")
	viper.SetDefault("recordstore.fields.pestflag", "status_ulat")

	viper.SetDefault("poller.enabled", false)
	viper.SetDefault("poller.mode", PollerModePoll)
	viper.SetDefault("poller.interval", time.Second)
	viper.SetDefault("poller.timeout", 60*time.Second)
	viper.SetDefault("poller.seenttl", 24*time.Hour)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "pestwatch")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.clientid", "")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.title", "Pest detected")
	viper.SetDefault("notification.cooldown", 5*time.Minute)
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.path", "/metrics")
}

// Poller modes.
const (
	PollerModePoll   = "poll"
	PollerModeStream = "stream"
)
