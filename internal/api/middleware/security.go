package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
)

// DefaultAllowedOrigins are the dashboard origins allowed when none are configured.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://localhost:8000",
}

// SecurityConfig holds configuration for security middleware.
type SecurityConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewCORS creates a CORS middleware for the dashboard origins.
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"X-Requested-With",
		},
		AllowCredentials: config.AllowCredentials,
	})
}

// NewSecureHeaders sets the headers an API serving images needs. HSTS is left
// to the reverse proxy terminating TLS.
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	})
}

// NewBodyLimit creates a middleware that limits the request body size.
// limit uses echo's size notation ("20M"). An unparsable or non-positive
// limit disables the check.
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	if n, err := bytes.Parse(limit); err != nil || n <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.BodyLimit(limit)
}

