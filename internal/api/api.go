// ABOUTME: HTTP client for talking to a Verba backend chosen by host detection.
// ABOUTME: Resilient JSON fetch helpers plus strict connect and upload calls.

// Package api wraps the Verba backend's REST endpoints.
//
// Every public call resolves the backend host anew through the detector, so
// a local dev server that comes up or goes down between calls is honored.
//
// The package deliberately has two error disciplines:
//
//   - FetchJSON (and Health/Config on top of it) never fails: any problem
//     is logged and surfaces as a nil payload.
//   - Connect and UploadFile propagate every failure to the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verbalab/verbactl/internal/buildinfo"
	"github.com/verbalab/verbactl/internal/hostdetect"
	"github.com/verbalab/verbactl/internal/metrics"
)

// DefaultRequestTimeout caps API requests when Options.Timeout is zero.
const DefaultRequestTimeout = 30 * time.Second

const maxResponseBytes = 4 << 20 // 4MB maximum response size

// HealthPayload is the backend's /api/health document. The shape is owned
// by the backend and passed through untouched.
type HealthPayload map[string]any

// ConfigResponse is the backend's /api/config document.
type ConfigResponse map[string]any

// ConnectPayload is the backend's response to /api/connect.
type ConnectPayload map[string]any

// ConnectRequest is the body of POST /api/connect. The field names are part
// of the wire contract.
type ConnectRequest struct {
	Deployment     string `json:"deployment"`
	WeaviateURL    string `json:"weaviateURL"`
	WeaviateAPIKey string `json:"weaviateAPIKey"`
}

// apiError is the JSON error envelope some endpoints return on failure.
type apiError struct {
	Error string `json:"error"`
}

// Options configures a Client.
type Options struct {
	// Detector resolves the backend base URL. Nil means a detector with
	// default options.
	Detector *hostdetect.Detector
	// Timeout caps each request. Zero means DefaultRequestTimeout;
	// negative disables the cap.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

// Client is an HTTP client for a Verba backend.
type Client struct {
	detector   *hostdetect.Detector
	httpClient *http.Client
	timeout    time.Duration
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
}

// New creates a Client from opts.
func New(opts Options) *Client {
	detector := opts.Detector
	if detector == nil {
		detector = hostdetect.New(hostdetect.Options{})
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Client{
		detector:   detector,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// ResolveHost runs host detection and returns the chosen base URL.
func (c *Client) ResolveHost(ctx context.Context) (string, error) {
	return c.detector.Detect(ctx)
}

// FetchJSON resolves the backend host, GETs endpoint, and decodes the JSON
// body into T. endpoint must begin with a slash.
//
// FetchJSON never returns an error. Detection failures, transport errors,
// malformed bodies, and a literal JSON null all come back as nil with a
// warning on the diagnostic log, so callers cannot distinguish "backend
// down" from "backend said null". A body that decodes to T's zero value
// (0, false, "", an empty struct) is logged as suspicious but returned
// as-is. The HTTP status line is not consulted: bodies are parsed the same
// on a 500 as on a 200.
//
// FetchJSON is a free function because Go methods cannot introduce type
// parameters.
func FetchJSON[T any](ctx context.Context, c *Client, endpoint string) *T {
	start := time.Now()

	host, err := c.detector.Detect(ctx)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": err}).Warn("fetch skipped, no reachable backend")
		c.metrics.IncRequest(endpoint, http.MethodGet, "unreachable")
		return nil
	}

	data, err := c.get(ctx, host, endpoint)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "host": host, "error": err}).Warn("fetch failed")
		c.metrics.IncRequest(endpoint, http.MethodGet, "error")
		return nil
	}

	// Decoding through a pointer keeps a literal JSON null distinguishable
	// from a zero value: null leaves payload nil.
	var payload *T
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "host": host, "error": err}).Warn("fetch returned invalid JSON")
		c.metrics.IncRequest(endpoint, http.MethodGet, "invalid_json")
		return nil
	}
	if payload == nil {
		c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "host": host}).Warn("fetch returned JSON null")
		c.metrics.IncRequest(endpoint, http.MethodGet, "null")
		return nil
	}
	if v := reflect.ValueOf(*payload); v.IsValid() && v.IsZero() {
		c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "host": host}).Warn("fetch returned a zero value, passing it through")
	}

	c.metrics.IncRequest(endpoint, http.MethodGet, "ok")
	c.metrics.ObserveRequest(endpoint, time.Since(start))
	return payload
}

// Health fetches /api/health. A nil result means the backend is unreachable
// or answered with something other than a JSON document.
func (c *Client) Health(ctx context.Context) *HealthPayload {
	return FetchJSON[HealthPayload](ctx, c, "/api/health")
}

// Config fetches /api/config.
func (c *Client) Config(ctx context.Context) *ConfigResponse {
	return FetchJSON[ConfigResponse](ctx, c, "/api/config")
}

// Connect establishes the backend's Weaviate connection by POSTing
// credentials to /api/connect and returns the decoded response body.
//
// Unlike the fetch helpers, Connect propagates every failure: detection,
// transport, encoding, and decoding errors all reach the caller. Backends
// report connection problems inside the JSON body, so the HTTP status is
// not turned into an error here either.
func (c *Client) Connect(ctx context.Context, deployment, weaviateURL, weaviateAPIKey string) (*ConnectPayload, error) {
	start := time.Now()

	host, err := c.detector.Detect(ctx)
	if err != nil {
		c.metrics.IncRequest("/api/connect", http.MethodPost, "unreachable")
		return nil, err
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(ConnectRequest{
		Deployment:     deployment,
		WeaviateURL:    weaviateURL,
		WeaviateAPIKey: weaviateAPIKey,
	}); err != nil {
		return nil, fmt.Errorf("encode connect request: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(host, "/api/connect"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncRequest("/api/connect", http.MethodPost, "error")
		return nil, fmt.Errorf("request POST %s/api/connect: %w", host, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read connect response: %w", err)
	}

	var payload ConnectPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.metrics.IncRequest("/api/connect", http.MethodPost, "invalid_json")
		return nil, fmt.Errorf("decode connect response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"host": host, "deployment": deployment}).Debug("connect request completed")
	c.metrics.IncRequest("/api/connect", http.MethodPost, "ok")
	c.metrics.ObserveRequest("/api/connect", time.Since(start))
	return &payload, nil
}

// UploadFile POSTs one file as multipart/form-data to endpoint on host and
// returns the raw response body. The file is sent under the form field
// "file" as application/octet-stream.
//
// The import endpoints signal failure through the status line, so non-2xx
// responses are returned as errors, decoded from the {"error": ...}
// envelope when present.
func (c *Client) UploadFile(ctx context.Context, host, endpoint, name string, r io.Reader) ([]byte, error) {
	start := time.Now()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart form: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(host, endpoint), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncRequest(endpoint, http.MethodPost, "error")
		return nil, fmt.Errorf("upload %s to %s%s: %w", name, host, endpoint, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.IncRequest(endpoint, http.MethodPost, "rejected")
		return nil, parseAPIError(resp.StatusCode, data)
	}

	c.metrics.IncRequest(endpoint, http.MethodPost, "ok")
	c.metrics.ObserveRequest(endpoint, time.Since(start))
	return data, nil
}

// get issues a GET and returns the raw body. The status line is not
// checked; resilient callers decode whatever arrived.
func (c *Client) get(ctx context.Context, host, endpoint string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(host, endpoint), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request GET %s%s: %w", host, endpoint, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// parseAPIError converts an HTTP error response into an error, preferring
// the JSON {"error": ...} message when the body carries one.
func parseAPIError(status int, data []byte) error {
	if len(data) > 0 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", status)
}

// withTimeout adds the client's timeout to the context if configured.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// joinURL appends an absolute endpoint path to a base URL.
func joinURL(host, endpoint string) string {
	return strings.TrimSuffix(host, "/") + endpoint
}
