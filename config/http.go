package config

import "strings"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://crowdcast.example.com").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// AllowOrigins lists the origins allowed by CORS. Empty disables CORS
	// headers entirely (same-origin deployments).
	AllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:","`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	origins := make([]string, 0, len(h.AllowOrigins))
	for _, origin := range h.AllowOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	h.AllowOrigins = origins
}
