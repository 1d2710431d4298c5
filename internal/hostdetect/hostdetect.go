// ABOUTME: Host detection for Verba backends with a local-first probe order.
// ABOUTME: Probes the local dev server's health endpoint before the deployed origin.
package hostdetect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verbalab/verbactl/internal/metrics"
)

const (
	// DefaultLocalURL is the development server candidate probed first.
	DefaultLocalURL = "http://localhost:8000"
	// DefaultHealthPath is appended to each candidate base for probing.
	DefaultHealthPath = "/api/health"
	// DefaultProbeTimeout caps each individual health probe.
	DefaultProbeTimeout = 3 * time.Second
)

// ErrHostUnavailable is returned by Detect when neither candidate passes its
// health check.
var ErrHostUnavailable = errors.New("no reachable backend: local and deployed health checks both failed")

// Options configures a Detector. The zero value probes only the default
// local URL.
type Options struct {
	// LocalURL is the development server base. Empty means DefaultLocalURL.
	LocalURL string
	// Origin is the deployed base probed when the local server is down.
	// Empty means there is no deployed candidate and its probe counts as
	// failed.
	Origin string
	// HealthPath overrides DefaultHealthPath.
	HealthPath string
	// ProbeTimeout caps each probe. Zero means DefaultProbeTimeout;
	// negative disables the cap.
	ProbeTimeout time.Duration
	// HTTPClient overrides the probing client.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

// Detector resolves which backend base URL to use. Detection runs fresh on
// every Detect call; results are never cached, so a restarted local server
// is picked up by the next call.
type Detector struct {
	local        string
	origin       string
	healthPath   string
	probeTimeout time.Duration
	client       *http.Client
	logger       logrus.FieldLogger
	metrics      *metrics.Metrics
}

// New builds a Detector from opts.
func New(opts Options) *Detector {
	local := opts.LocalURL
	if local == "" {
		local = DefaultLocalURL
	}
	healthPath := opts.HealthPath
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout == 0 {
		probeTimeout = DefaultProbeTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Detector{
		local:        local,
		origin:       opts.Origin,
		healthPath:   healthPath,
		probeTimeout: probeTimeout,
		client:       client,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Detect returns the base URL of the first healthy candidate. The local
// candidate is probed first and short-circuits the origin probe when
// healthy. Probe failures never propagate; when both candidates fail the
// caller gets ErrHostUnavailable.
func (d *Detector) Detect(ctx context.Context) (string, error) {
	if d.checkURL(ctx, "local", d.local) {
		d.metrics.IncDetect("local")
		return d.local, nil
	}
	if d.origin == "" {
		d.logger.Debug("no deployed origin configured, skipping origin probe")
	} else if d.checkURL(ctx, "origin", d.origin) {
		d.metrics.IncDetect("origin")
		return d.origin, nil
	}
	d.metrics.IncDetect("unavailable")
	return "", ErrHostUnavailable
}

// checkURL probes one candidate and reports whether it answered with a 2xx
// status. Transport errors, timeouts, and bad statuses all map to false;
// nothing a probe does can surface as an error to the caller.
func (d *Detector) checkURL(ctx context.Context, candidate, base string) bool {
	url := strings.TrimSuffix(base, "/") + d.healthPath

	if d.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.probeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"candidate": candidate, "url": url, "error": err}).Debug("health probe request invalid")
		d.metrics.IncProbe(candidate, "unreachable")
		return false
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"candidate": candidate, "url": url, "error": err}).Debug("health probe failed")
		d.metrics.IncProbe(candidate, "unreachable")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	outcome := "unhealthy"
	if healthy {
		outcome = "healthy"
	}
	d.logger.WithFields(logrus.Fields{
		"candidate": candidate,
		"url":       url,
		"status":    resp.StatusCode,
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Debug("health probe " + outcome)
	d.metrics.IncProbe(candidate, outcome)
	return healthy
}
