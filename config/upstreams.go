package config

import "time"

// IETTUpstreamConfig controls the IETT SOAP planned-departures client.
type IETTUpstreamConfig struct {
	EndpointURL string        `env:"URL"`
	SOAPAction  string        `env:"SOAP_ACTION"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"15s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BackoffStep time.Duration `env:"BACKOFF_STEP" envDefault:"2s"`
}

// MetroUpstreamConfig controls the Metro Istanbul JSON API client.
type MetroUpstreamConfig struct {
	BaseURL     string        `env:"URL"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"12s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BackoffStep time.Duration `env:"BACKOFF_STEP" envDefault:"4s"`
}

// WeatherUpstreamConfig controls the hourly weather forecast client.
type WeatherUpstreamConfig struct {
	BaseURL     string        `env:"URL"`
	Latitude    float64       `env:"LATITUDE"`
	Longitude   float64       `env:"LONGITUDE"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"10s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// UpstreamsConfig groups the three upstream clients. Empty URLs fall back to
// the production endpoints compiled into the clients.
type UpstreamsConfig struct {
	IETT    IETTUpstreamConfig    `envPrefix:"IETT_"`
	Metro   MetroUpstreamConfig   `envPrefix:"METRO_"`
	Weather WeatherUpstreamConfig `envPrefix:"WEATHER_"`
}

// Sanitize applies guardrails to upstream configuration values.
func (u *UpstreamsConfig) Sanitize() {
	if u.IETT.Timeout <= 0 {
		u.IETT.Timeout = 15 * time.Second
	}
	if u.Metro.Timeout <= 0 {
		u.Metro.Timeout = 12 * time.Second
	}
	if u.Weather.Timeout <= 0 {
		u.Weather.Timeout = 10 * time.Second
	}
}
