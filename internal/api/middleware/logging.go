// Package middleware provides HTTP middleware components for the pestwatch API.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

// NewRequestLogger creates a request logging middleware that also feeds the
// HTTP request metrics. Either of log and m may be nil.
func NewRequestLogger(log logger.Logger, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, m, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, m *metrics.HTTPMetrics, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:         skipper,
		LogStatus:       true,
		LogURI:          true,
		LogMethod:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogError:        true,
		LogRoutePath:    true,
		LogResponseSize: true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			m.RecordRequest(v.Method, v.RoutePath, v.Status, v.ResponseSize, v.Latency)
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", logger.RedactSensitiveData(v.URI)),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			l := log.WithContext(c.Request().Context())
			switch {
			case v.Status >= 500:
				l.Error("request", fields...)
			case v.Status >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		},
	})
}
