package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"contxtd/internal/metrics"
	"contxtd/internal/registry"
)

// Dispatcher routes a chat call to the adapter registered for a provider
// id. Unknown providers fail closed before any network activity. Adapter
// errors propagate unchanged; callers render them.
type Dispatcher struct {
	adapters map[string]Adapter
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type DispatcherConfig struct {
	Registry   *registry.Registry
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Dispatcher{
		adapters: map[string]Adapter{
			registry.ProviderOpenAI:    NewOpenAI(cfg.Registry, cfg.HTTPClient),
			registry.ProviderAnthropic: NewAnthropic(cfg.Registry, cfg.HTTPClient),
			registry.ProviderGoogle:    NewGoogle(cfg.Registry, cfg.HTTPClient),
			registry.ProviderOllama:    NewOllama(cfg.Registry, cfg.HTTPClient),
			registry.ProviderGeminiCLI: NewGeminiCLI(cfg.Registry, cfg.HTTPClient),
			registry.ProviderLocalLLM:  NewLocalLLM(cfg.Registry, cfg.HTTPClient),
		},
		logger:  cfg.Logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
	}
}

func (d *Dispatcher) Chat(ctx context.Context, messages []Message, providerID, model string) (Response, error) {
	adapter, ok := d.adapters[providerID]
	if !ok {
		return Response{}, &UnsupportedProviderError{Provider: providerID}
	}

	d.metrics.ChatRequests.WithLabelValues(providerID).Inc()
	started := time.Now()
	resp, err := adapter.Chat(ctx, messages, model)
	if err != nil {
		d.metrics.ChatFailures.WithLabelValues(providerID).Inc()
		d.logger.Debug().Err(err).Str("provider", providerID).Str("model", model).Msg("chat failed")
		return Response{}, err
	}
	d.logger.Debug().
		Str("provider", providerID).
		Str("model", model).
		Dur("elapsed", time.Since(started)).
		Msg("chat completed")
	return resp, nil
}
