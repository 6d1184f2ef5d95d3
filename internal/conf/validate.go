// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/gommon/bytes"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and reports every problem at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateDetectorSettings(&s.Detector) },
		func(s *Settings) error { return validateStorageSettings(&s.Storage) },
		func(s *Settings) error { return validateFetchSettings(&s.Fetch) },
		func(s *Settings) error { return validateRecordStoreSettings(&s.RecordStore) },
		validatePollerSettings,
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *WebServerSettings) error {
	var errs []error
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("webserver.port %q must be a number between 1 and 65535", s.Port))
	}
	if s.PublicURL != "" {
		if err := validateHTTPURL(s.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("webserver.publicurl: %w", err))
		}
	}
	if s.BodyLimit != "" {
		if _, err := bytes.Parse(s.BodyLimit); err != nil {
			errs = append(errs, fmt.Errorf("webserver.bodylimit %q is not a valid size", s.BodyLimit))
		}
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.Requests < 1 {
			errs = append(errs, errors.New("webserver.ratelimit.requests must be at least 1"))
		}
		if s.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("webserver.ratelimit.window must be positive"))
		}
	}
	return errors.Join(errs...)
}

func validateDetectorSettings(s *DetectorSettings) error {
	var errs []error
	if err := validateHTTPURL(s.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("detector.endpoint: %w", err))
	}
	if s.HealthEndpoint != "" {
		if err := validateHTTPURL(s.HealthEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("detector.healthendpoint: %w", err))
		}
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detector.threshold %.2f must be between 0 and 1", s.Threshold))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("detector.timeout must be positive"))
	}
	if s.Concurrency < 1 {
		errs = append(errs, errors.New("detector.concurrency must be at least 1"))
	}
	if strings.TrimSpace(s.PestLabel) == "" {
		errs = append(errs, errors.New("detector.pestlabel must not be empty"))
	}
	return errors.Join(errs...)
}

func validateStorageSettings(s *StorageSettings) error {
	var errs []error
	if s.UploadDir == "" {
		errs = append(errs, errors.New("storage.uploaddir must not be empty"))
	}
	if s.OutputDir == "" {
		errs = append(errs, errors.New("storage.outputdir must not be empty"))
	}
	if s.UploadDir != "" && s.UploadDir == s.OutputDir {
		errs = append(errs, errors.New("storage.uploaddir and storage.outputdir must differ"))
	}
	if s.MaxFiles < 1 {
		errs = append(errs, errors.New("storage.maxfiles must be at least 1"))
	}
	return errors.Join(errs...)
}

func validateFetchSettings(s *FetchSettings) error {
	var errs []error
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if s.MaxBytes < 1 {
		errs = append(errs, errors.New("fetch.maxbytes must be positive"))
	}
	return errors.Join(errs...)
}

func validateRecordStoreSettings(s *RecordStoreSettings) error {
	if !s.Enabled {
		return nil
	}
	var errs []error
	if err := validateHTTPURL(s.URL); err != nil {
		errs = append(errs, fmt.Errorf("recordstore.url: %w", err))
	}
	if strings.Trim(s.Root, "/") == "" {
		errs = append(errs, errors.New("recordstore.root must not be empty"))
	}
	if s.Fields.Photo == "" || s.Fields.PhotoDetected == "" || s.Fields.PestFlag == "" {
		errs = append(errs, errors.New("recordstore.fields must name photo, photodetected and pestflag"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("recordstore.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validatePollerSettings(settings *Settings) error {
	s := &settings.Poller
	if !s.Enabled {
		return nil
	}
	var errs []error
	if !settings.RecordStore.Enabled {
		errs = append(errs, errors.New("poller requires recordstore.enabled"))
	}
	switch s.Mode {
	case PollerModePoll, PollerModeStream:
	default:
		errs = append(errs, fmt.Errorf("poller.mode %q must be %q or %q", s.Mode, PollerModePoll, PollerModeStream))
	}
	if s.Mode == PollerModePoll && s.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("poller.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validateMQTTSettings(s *MQTTSettings) error {
	if !s.Enabled {
		return nil
	}
	var errs []error
	if s.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	} else if u, err := url.Parse(s.Broker); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker %q must be a URL such as tcp://host:1883", s.Broker))
	}
	if s.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt is enabled"))
	}
	if s.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", s.QoS))
	}
	return errors.Join(errs...)
}

func validateNotificationSettings(s *NotificationSettings) error {
	if s.Enabled && len(s.URLs) == 0 {
		return errors.New("notification.urls must list at least one service URL when notifications are enabled")
	}
	return nil
}

func validateSentrySettings(s *SentrySettings) error {
	if s.Enabled && s.DSN == "" {
		return errors.New("sentry.dsn is required when sentry is enabled")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
