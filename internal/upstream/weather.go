// Package upstream holds the HTTP clients for the three external data
// sources: the Open-Meteo weather forecast, the IETT planned bus schedule
// SOAP endpoint, and the Metro Istanbul mobile API.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/observability/metrics"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
)

// Istanbul city-centre coordinates used when none are configured.
const (
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
	DefaultLatitude   = 41.0082
	DefaultLongitude  = 28.9784
)

// WeatherConfig captures the subset of Open-Meteo behaviour we need.
type WeatherConfig struct {
	BaseURL     string
	Latitude    float64
	Longitude   float64
	Timeout     time.Duration
	MaxAttempts int
	Client      *http.Client
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// WeatherClient fetches one civil day of hourly weather.
type WeatherClient struct {
	baseURL     string
	latitude    float64
	longitude   float64
	maxAttempts int
	client      *http.Client
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewWeatherClient builds a weather client with defaults filled in.
func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if cfg.Latitude == 0 && cfg.Longitude == 0 {
		cfg.Latitude = DefaultLatitude
		cfg.Longitude = DefaultLongitude
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &WeatherClient{
		baseURL:     cfg.BaseURL,
		latitude:    cfg.Latitude,
		longitude:   cfg.Longitude,
		maxAttempts: cfg.MaxAttempts,
		client:      hc,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

type weatherResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature2m []float64 `json:"temperature_2m"`
		Precipitation []float64 `json:"precipitation"`
		WindSpeed10m  []float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

// FallbackDay returns the fixed weather snapshot applied to all 24 hours when
// the upstream is unreachable after retries.
func FallbackDay() [24]model.HourlyWeather {
	var out [24]model.HourlyWeather
	for h := range out {
		out[h] = model.FallbackWeather
	}
	return out
}

// DailyWeather fetches the 24 hourly weather rows for a YYYY-MM-DD date.
// Callers apply FallbackDay on error.
func (c *WeatherClient) DailyWeather(ctx context.Context, dateStr string) ([24]model.HourlyWeather, error) {
	var out [24]model.HourlyWeather
	started := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		out, lastErr = c.fetchOnce(ctx, dateStr)
		if lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "weather fetch failed",
			"date", dateStr, "attempt", attempt, "max_attempts", c.maxAttempts, "error", lastErr)
		if attempt < c.maxAttempts {
			if err := sleepCtx(ctx, 2*time.Second); err != nil {
				lastErr = err
				break
			}
		}
	}

	metrics.EmitUpstreamCall(c.metrics, metrics.UpstreamCall{
		Upstream: "weather",
		Duration: time.Since(started),
		Err:      lastErr,
	})
	return out, lastErr
}

func (c *WeatherClient) fetchOnce(ctx context.Context, dateStr string) ([24]model.HourlyWeather, error) {
	var out [24]model.HourlyWeather

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(c.latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(c.longitude, 'f', -1, 64))
	params.Set("hourly", "temperature_2m,precipitation,wind_speed_10m")
	params.Set("start_date", dateStr)
	params.Set("end_date", dateStr)
	params.Set("timezone", "Europe/Istanbul")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return out, fmt.Errorf("build weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("weather request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return out, fmt.Errorf("weather request: unexpected status %d", resp.StatusCode)
	}

	var parsed weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return out, fmt.Errorf("decode weather response: %w", err)
	}
	if len(parsed.Hourly.Time) == 0 {
		return out, fmt.Errorf("weather response missing hourly block")
	}

	for i, ts := range parsed.Hourly.Time {
		hour, ok := hourOfISOTimestamp(ts)
		if !ok || i >= len(parsed.Hourly.Temperature2m) ||
			i >= len(parsed.Hourly.Precipitation) || i >= len(parsed.Hourly.WindSpeed10m) {
			continue
		}
		out[hour] = model.HourlyWeather{
			Temperature2m: parsed.Hourly.Temperature2m[i],
			Precipitation: parsed.Hourly.Precipitation[i],
			WindSpeed10m:  parsed.Hourly.WindSpeed10m[i],
		}
	}
	return out, nil
}

// hourOfISOTimestamp extracts the hour from an Open-Meteo "2006-01-02T15:04"
// local timestamp.
func hourOfISOTimestamp(ts string) (int, bool) {
	t, err := time.Parse("2006-01-02T15:04", ts)
	if err != nil {
		return 0, false
	}
	return t.Hour(), true
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
