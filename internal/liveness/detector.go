// Package liveness keeps each local provider's reachability status fresh.
// A single background task probes every local provider on a fixed interval;
// probe failures are contained here and only ever surface as a status value.
package liveness

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"contxtd/internal/metrics"
	"contxtd/internal/registry"
)

type Detector struct {
	registry *registry.Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type Config struct {
	Registry   *registry.Registry
	HTTPClient *http.Client
	Interval   time.Duration
	Timeout    time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func New(cfg Config) *Detector {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Detector{
		registry: cfg.Registry,
		client:   cfg.HTTPClient,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With().Str("component", "liveness").Logger(),
		metrics:  m,
		inflight: make(map[string]bool),
	}
}

// Start runs one detection pass immediately, then repeats on the interval
// until Stop is called or ctx is canceled. Non-blocking.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	done := make(chan struct{})
	d.done = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.pass()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.pass()
			}
		}
	}()
}

// Stop tears down the repeating timer and waits for the polling loop to
// exit. In-flight probes are not aborted; a late probe writing status after
// Stop is harmless.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// pass checks every local provider concurrently; each probe carries its own
// timeout and the per-provider in-flight guard prevents overlap with a
// previous pass that has not finished.
func (d *Detector) pass() {
	var wg sync.WaitGroup
	for _, id := range d.registry.LocalProviderIDs() {
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()
			d.CheckNow(providerID)
		}(id)
	}
	wg.Wait()
}

// CheckNow probes one local provider synchronously and updates its status.
// The registry's SetBaseURL hook calls this so a changed endpoint is
// re-checked before the next scheduled poll. A probe already running for
// the same provider makes this a no-op.
func (d *Detector) CheckNow(providerID string) {
	d.mu.Lock()
	if d.inflight[providerID] {
		d.mu.Unlock()
		return
	}
	d.inflight[providerID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, providerID)
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	d.registry.SetStatus(providerID, registry.StatusChecking)
	d.metrics.ProbesTotal.WithLabelValues(providerID).Inc()

	connected := d.probe(ctx, providerID)
	if connected {
		d.registry.SetStatus(providerID, registry.StatusConnected)
		d.metrics.ProviderUp.WithLabelValues(providerID).Set(1)
		return
	}
	d.registry.SetStatus(providerID, registry.StatusDisconnected)
	d.metrics.ProviderUp.WithLabelValues(providerID).Set(0)
	d.metrics.ProbeFailures.WithLabelValues(providerID).Inc()
}

func (d *Detector) probe(ctx context.Context, providerID string) bool {
	baseURL := d.registry.BaseURL(ctx, providerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(providerID, baseURL), nil)
	if err != nil {
		d.logger.Debug().Err(err).Str("provider", providerID).Msg("build probe request")
		return false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug().Err(err).Str("provider", providerID).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}

	// Ollama's tags endpoint doubles as a model inventory; the other local
	// servers only expose a bare health endpoint.
	if providerID == registry.ProviderOllama {
		names, ok := parseOllamaTags(body)
		if !ok {
			return false
		}
		if len(names) > 0 {
			d.registry.SetModels(providerID, names)
			d.metrics.ModelsDetected.WithLabelValues(providerID).Set(float64(len(names)))
		}
	}
	return true
}

// healthURL derives the probe endpoint from the configured base URL by
// convention: ollama exposes {base}/tags, the others {base}/health.
func healthURL(providerID, baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if providerID == registry.ProviderOllama {
		return base + "/tags"
	}
	return base + "/health"
}

func parseOllamaTags(body []byte) ([]string, bool) {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, false
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, true
}
