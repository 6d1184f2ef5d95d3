package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSettings returns settings that pass validation; tests break one field at a time.
func validSettings() *Settings {
	return &Settings{
		WebServer: WebServerSettings{
			Port:      "8001",
			BodyLimit: "20M",
			RateLimit: RateLimitSettings{Enabled: true, Requests: 100, Window: time.Minute},
		},
		Detector: DetectorSettings{
			Endpoint:    "http://127.0.0.1:5000/predict",
			Threshold:   0.5,
			Timeout:     30 * time.Second,
			Concurrency: 1,
			PestLabel:   DefaultPestLabel,
		},
		Storage: StorageSettings{UploadDir: "uploads", OutputDir: "detectedImages", MaxFiles: 50},
		Fetch:   FetchSettings{Timeout: 15 * time.Second, MaxBytes: 1 << 20},
		RecordStore: RecordStoreSettings{
			URL:     "https://hydro-default-rtdb.firebaseio.com",
			Root:    "camera",
			Timeout: 10 * time.Second,
			Fields:  RecordFields{Photo: "photo", PhotoDetected: "photo_detected", PestFlag: "status_ulat"},
		},
		Poller: PollerSettings{Mode: PollerModePoll, Interval: time.Second, Timeout: time.Minute},
		MQTT:   MQTTSettings{Broker: "tcp://localhost:1883", Topic: "pestwatch", QoS: 1},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"port not numeric", func(s *Settings) { s.WebServer.Port = "http" }, "webserver.port"},
		{"port out of range", func(s *Settings) { s.WebServer.Port = "70000" }, "webserver.port"},
		{"bad body limit", func(s *Settings) { s.WebServer.BodyLimit = "lots" }, "webserver.bodylimit"},
		{"rate limit zero requests", func(s *Settings) { s.WebServer.RateLimit.Requests = 0 }, "ratelimit.requests"},
		{"rate limit disabled ignores values", func(s *Settings) {
			s.WebServer.RateLimit = RateLimitSettings{Enabled: false}
		}, ""},
		{"detector endpoint scheme", func(s *Settings) { s.Detector.Endpoint = "ftp://x/predict" }, "detector.endpoint"},
		{"threshold above one", func(s *Settings) { s.Detector.Threshold = 1.5 }, "detector.threshold"},
		{"zero concurrency", func(s *Settings) { s.Detector.Concurrency = 0 }, "detector.concurrency"},
		{"empty pest label", func(s *Settings) { s.Detector.PestLabel = " " }, "detector.pestlabel"},
		{"zero max files", func(s *Settings) { s.Storage.MaxFiles = 0 }, "storage.maxfiles"},
		{"same directories", func(s *Settings) { s.Storage.OutputDir = s.Storage.UploadDir }, "must differ"},
		{"record store without url", func(s *Settings) {
			s.RecordStore.Enabled = true
			s.RecordStore.URL = ""
		}, "recordstore.url"},
		{"poller without record store", func(s *Settings) { s.Poller.Enabled = true }, "poller requires recordstore"},
		{"poller bad mode", func(s *Settings) {
			s.RecordStore.Enabled = true
			s.Poller.Enabled = true
			s.Poller.Mode = "push"
		}, "poller.mode"},
		{"mqtt without topic", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Topic = ""
		}, "mqtt.topic"},
		{"notifications without urls", func(s *Settings) { s.Notification.Enabled = true }, "notification.urls"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.WebServer.Port = ""
	s.Storage.MaxFiles = -1

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvPort("8001"))
	assert.Error(t, validateEnvPort("0"))
	assert.NoError(t, validateEnvURL("https://hydro.firebaseio.com"))
	assert.Error(t, validateEnvURL("hydro.firebaseio.com"))
	assert.NoError(t, validateEnvUnitFloat("0.25"))
	assert.Error(t, validateEnvUnitFloat("2"))
	assert.NoError(t, validateEnvPositiveInt("2"))
	assert.Error(t, validateEnvPositiveInt("-3"))
}
