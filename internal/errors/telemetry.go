// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryOptions configures the Sentry SDK for error reporting.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Debug       bool
	Transport   sentry.Transport // optional, used by tests
}

// InitSentry initializes the Sentry SDK with privacy filtering and installs a
// SentryReporter as the telemetry reporter.
func InitSentry(opts SentryOptions) (*SentryReporter, error) {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		SampleRate:       sampleRate,
		Debug:            opts.Debug,
		AttachStacktrace: false,
		Environment:      opts.Environment,
		ServerName:       "",
		Release:          opts.Release,
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}
	reporter := NewSentryReporter(true)
	SetTelemetryReporter(reporter)
	return reporter, nil
}

// applyPrivacyFilters strips host identity from outgoing events.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection.
// Client input errors are not reported.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() || IsClientError(ee) {
		return
	}

	scrubbedMessage := basicURLScrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	errorTitle := generateErrorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			if strValue, ok := value.(string); ok {
				value = basicURLScrub(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{Type: errorTitle, Value: scrubbedMessage}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds a grouping title such as "Poller Record Store Error Fetch Latest".
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string
	if ee.Component != "" && ee.Component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(ee.Component))
	}
	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}
	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(titleParts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryImageFetch:
		return "Image Fetch Error"
	case CategoryImageDecode:
		return "Image Decode Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryDetector:
		return "Detector Error"
	case CategoryRecordStore:
		return "Record Store Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryConfiguration:
		return "Configuration Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryMQTTPublish, CategoryNotification:
		return sentry.LevelWarning // usually transient
	case CategoryFileIO, CategoryRecordStore:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlUserRegex   = regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^/@\s]+@`)
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

// basicURLScrub removes query strings, URL credentials and key-like strings.
func basicURLScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = urlUserRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	for _, re := range apiKeyPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	return scrubbed
}
