package upstream

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ibb-transit/crowdcast/internal/observability/metrics"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
)

// IETT planned bus schedule SOAP endpoint defaults.
const (
	DefaultIETTURL    = "https://api.ibb.gov.tr/iett/UlasimAnaVeri/PlanlananSeferSaati.asmx"
	DefaultSOAPAction = "http://tempuri.org/GetPlanlananSeferSaati_XML"
)

const soapEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
               xmlns:xsd="http://www.w3.org/2001/XMLSchema"
               xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetPlanlananSeferSaati_XML xmlns="http://tempuri.org/">
      <HatKodu>%s</HatKodu>
    </GetPlanlananSeferSaati_XML>
  </soap:Body>
</soap:Envelope>`

// BusRow is one raw schedule row parsed from the SOAP response. Fields may be
// empty; the normalization layer filters incomplete rows.
type BusRow struct {
	DayType   string
	Direction string
	Time      string
	RouteName string
}

// IETTConfig captures the subset of the IETT SOAP endpoint behaviour we need.
type IETTConfig struct {
	EndpointURL string
	SOAPAction  string
	Timeout     time.Duration
	MaxAttempts int
	BackoffStep time.Duration
	Client      *http.Client
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// IETTClient fetches planned departures for one bus line per call.
type IETTClient struct {
	endpointURL string
	soapAction  string
	maxAttempts int
	backoffStep time.Duration
	client      *http.Client
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewIETTClient builds an IETT SOAP client with defaults filled in.
func NewIETTClient(cfg IETTConfig) *IETTClient {
	if cfg.EndpointURL == "" {
		cfg.EndpointURL = DefaultIETTURL
	}
	if cfg.SOAPAction == "" {
		cfg.SOAPAction = DefaultSOAPAction
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
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
	return &IETTClient{
		endpointURL: cfg.EndpointURL,
		soapAction:  cfg.SOAPAction,
		maxAttempts: cfg.MaxAttempts,
		backoffStep: cfg.BackoffStep,
		client:      hc,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// PlannedDepartures fetches the raw schedule table for a line code, retrying
// timeouts, transport errors, and parse failures with linear backoff.
func (c *IETTClient) PlannedDepartures(ctx context.Context, lineCode string) ([]BusRow, error) {
	started := time.Now()

	var rows []BusRow
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rows, lastErr = c.fetchOnce(ctx, lineCode)
		if lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "iett schedule fetch failed",
			"line_code", lineCode, "attempt", attempt, "max_attempts", c.maxAttempts, "error", lastErr)
		if attempt < c.maxAttempts {
			if err := sleepCtx(ctx, time.Duration(attempt)*c.backoffStep); err != nil {
				lastErr = err
				break
			}
		}
	}

	metrics.EmitUpstreamCall(c.metrics, metrics.UpstreamCall{
		Upstream: "iett",
		Duration: time.Since(started),
		Err:      lastErr,
	})
	return rows, lastErr
}

func (c *IETTClient) fetchOnce(ctx context.Context, lineCode string) ([]BusRow, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(lineCode)); err != nil {
		return nil, fmt.Errorf("escape line code: %w", err)
	}
	body := fmt.Sprintf(soapEnvelope, escaped.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build iett request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", c.soapAction)
	req.Header.Set("User-Agent", "crowdcast/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iett request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("iett request: unexpected status %d", resp.StatusCode)
	}

	rows, err := parseScheduleXML(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("iett response contained no schedule rows")
	}
	return rows, nil
}

// parseScheduleXML walks the SOAP envelope token by token and collects every
// Table element's children into a field map, ignoring namespaces. The feed
// varies field casing and naming between revisions, so lookups go through
// busRowField.
func parseScheduleXML(r io.Reader) ([]BusRow, error) {
	dec := xml.NewDecoder(r)

	var rows []BusRow
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse iett response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Table" {
			continue
		}
		fields, err := decodeTableFields(dec)
		if err != nil {
			return nil, fmt.Errorf("parse iett response: %w", err)
		}
		rows = append(rows, BusRow{
			DayType:   busRowField(fields, "sguntipi", "guntipi"),
			Direction: busRowField(fields, "syon", "yon"),
			Time:      busRowField(fields, "dt", "saat"),
			RouteName: busRowField(fields, "hatadi"),
		})
	}
	return rows, nil
}

// decodeTableFields reads one Table element's children into a map keyed by
// lowercased local tag name.
func decodeTableFields(dec *xml.Decoder) (map[string]string, error) {
	fields := make(map[string]string)
	var current string
	var text strings.Builder
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			current = strings.ToLower(t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			depth--
			if depth >= 1 && current != "" {
				fields[current] = strings.TrimSpace(text.String())
				current = ""
			}
		}
	}
	return fields, nil
}

func busRowField(fields map[string]string, names ...string) string {
	for _, name := range names {
		if v := fields[name]; v != "" {
			return v
		}
	}
	return ""
}
