package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/observability/metrics"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
)

// DefaultMetroURL is the Metro Istanbul mobile API base.
const DefaultMetroURL = "https://api.ibb.gov.tr/MetroIstanbul/api/MetroMobile/V2"

// MetroConfig captures the subset of the Metro Istanbul API behaviour we need.
type MetroConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BackoffStep time.Duration
	Client      *http.Client
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// MetroClient calls the timetable, travel duration, and service status
// endpoints of the Metro Istanbul API.
type MetroClient struct {
	baseURL     string
	maxAttempts int
	backoffStep time.Duration
	client      *http.Client
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewMetroClient builds a metro API client with defaults filled in.
func NewMetroClient(cfg MetroConfig) *MetroClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMetroURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 4 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &MetroClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: cfg.MaxAttempts,
		backoffStep: cfg.BackoffStep,
		client:      hc,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

type timetableRequest struct {
	BoardingStationID int    `json:"BoardingStationId"`
	DirectionID       int    `json:"DirectionId"`
	DateTime          string `json:"DateTime,omitempty"`
}

// Timetable fetches the verbatim timetable payload for a (station, direction)
// pair, retrying with linear backoff.
func (c *MetroClient) Timetable(ctx context.Context, stationID, directionID int) (model.MetroTimetablePayload, error) {
	started := time.Now()

	var payload model.MetroTimetablePayload
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.postJSON(ctx, "/GetTimeTable", timetableRequest{
			BoardingStationID: stationID,
			DirectionID:       directionID,
		}, &payload)
		if lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "metro timetable fetch failed",
			"station_id", stationID, "direction_id", directionID,
			"attempt", attempt, "max_attempts", c.maxAttempts, "error", lastErr)
		if attempt < c.maxAttempts {
			if err := sleepCtx(ctx, time.Duration(attempt)*c.backoffStep); err != nil {
				lastErr = err
				break
			}
		}
	}

	metrics.EmitUpstreamCall(c.metrics, metrics.UpstreamCall{
		Upstream: "metro",
		Duration: time.Since(started),
		Err:      lastErr,
	})
	return payload, lastErr
}

// successEnvelope is the minimal slice of a Metro API response needed to
// distinguish upstream-reported failure from transport success.
type successEnvelope struct {
	Success bool                 `json:"Success"`
	Error   *model.MetroAPIError `json:"Error"`
}

// TravelDurations proxies per-station travel minutes for a (station,
// direction) pair. The response is passed through verbatim; callers cache it.
func (c *MetroClient) TravelDurations(ctx context.Context, stationID, directionID int, at time.Time) (json.RawMessage, error) {
	raw, err := c.postRaw(ctx, "/GetStationBetweenTime", timetableRequest{
		BoardingStationID: stationID,
		DirectionID:       directionID,
		DateTime:          at.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	var env successEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode metro duration response: %w", err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return nil, fmt.Errorf("metro duration request rejected: %s", msg)
	}
	return raw, nil
}

// ServiceStatuses proxies the per-line network status feed verbatim.
func (c *MetroClient) ServiceStatuses(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/GetServiceStatuses", nil)
	if err != nil {
		return nil, fmt.Errorf("build metro request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, "metro_status")
}

func (c *MetroClient) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := c.postRaw(ctx, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode metro response: %w", err)
	}
	return nil
}

func (c *MetroClient) postRaw(ctx context.Context, path string, body any) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode metro request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build metro request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, "")
}

func (c *MetroClient) do(req *http.Request, upstream string) (json.RawMessage, error) {
	started := time.Now()
	raw, err := c.doOnce(req)
	if upstream != "" {
		metrics.EmitUpstreamCall(c.metrics, metrics.UpstreamCall{
			Upstream: upstream,
			Duration: time.Since(started),
			Err:      err,
		})
	}
	return raw, err
}

func (c *MetroClient) doOnce(req *http.Request) (json.RawMessage, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metro request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("metro request: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metro response: %w", err)
	}
	return json.RawMessage(raw), nil
}
