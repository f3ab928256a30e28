package middleware

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/security"
)

// SecurityMiddlewareConfig holds configuration for security middleware
type SecurityMiddlewareConfig struct {
	RateLimit  *security.RateLimitConfig `yaml:"rate_limit"`
	Validation *ValidationConfig         `yaml:"validation"`
}

// SecurityMiddleware combines the inbound guards of the HTTP surface.
type SecurityMiddleware struct {
	rateLimiter *security.InMemoryRateLimiter
	validator   *ValidationMiddleware
	logger      *logrus.Logger
}

// NewSecurityMiddleware creates the rate limiter and request validator.
// document is the OpenAPI YAML the validator checks requests against.
func NewSecurityMiddleware(config *SecurityMiddlewareConfig, document []byte, logger *logrus.Logger) (*SecurityMiddleware, error) {
	var rateLimiter *security.InMemoryRateLimiter
	if config.RateLimit != nil && config.RateLimit.Enabled {
		rateLimiter = security.NewInMemoryRateLimiter(config.RateLimit, logger)
	}

	validator, err := NewValidationMiddleware(config.Validation, document, logger)
	if err != nil {
		if rateLimiter != nil {
			rateLimiter.Stop()
		}
		return nil, fmt.Errorf("failed to create request validator: %w", err)
	}

	return &SecurityMiddleware{
		rateLimiter: rateLimiter,
		validator:   validator,
		logger:      logger,
	}, nil
}

// Handler adds security headers and applies per-client rate limiting.
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if s.rateLimiter != nil {
			handler = security.RateLimitMiddleware(s.rateLimiter, security.ClientIPKeyExtractor)(handler)
		}

		return s.securityHeadersMiddleware()(handler)
	}
}

// ValidationOnly returns only the OpenAPI validation middleware
func (s *SecurityMiddleware) ValidationOnly() func(http.Handler) http.Handler {
	return s.validator.Middleware
}

func (s *SecurityMiddleware) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Server", "IntelliHub/1.0")
			w.Header().Set("X-API-Version", "1.0")

			next.ServeHTTP(w, r)
		})
	}
}

// Stop gracefully stops all middleware components
func (s *SecurityMiddleware) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// GetStats reports which guards are active.
func (s *SecurityMiddleware) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"rate_limiter_enabled": s.rateLimiter != nil,
		"validation_enabled":   s.validator.enabled,
	}
}
