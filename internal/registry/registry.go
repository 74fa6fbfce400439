// Package registry owns the provider table: which AI backends exist, how to
// reach them, and (for local servers) whether they were reachable at the
// last probe. The in-memory table is a read-through cache over a persistent
// key-value store, so external edits to the store become visible on the
// next read.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindCloud Kind = "cloud"
	KindLocal Kind = "local"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusChecking     Status = "checking"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderGeminiCLI = "gemini_cli"
	ProviderLocalLLM  = "local_llm"
)

// Provider is a snapshot of one registered backend. Kind never changes
// after registration; Status is meaningful only for local providers.
type Provider struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	BaseURL    string   `json:"base_url"`
	Credential string   `json:"-"`
	Models     []string `json:"models"`
	Status     Status   `json:"status,omitempty"`
}

func defaults() []Provider {
	return []Provider{
		{
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			Kind:    KindCloud,
			BaseURL: "https://api.openai.com/v1",
			Models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
		},
		{
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			Kind:    KindCloud,
			BaseURL: "https://api.anthropic.com/v1",
			Models:  []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
		},
		{
			ID:      ProviderGoogle,
			Name:    "Google AI",
			Kind:    KindCloud,
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Models:  []string{"gemini-1.5-pro", "gemini-1.5-flash"},
		},
		{
			ID:      ProviderOllama,
			Name:    "Ollama",
			Kind:    KindLocal,
			BaseURL: "http://localhost:11434/api",
			Models:  []string{"llama3", "llama2", "mistral"},
			Status:  StatusDisconnected,
		},
		{
			ID:      ProviderGeminiCLI,
			Name:    "Gemini CLI",
			Kind:    KindLocal,
			BaseURL: "http://localhost:8080/api",
			Models:  []string{"gemini-2.0-flash"},
			Status:  StatusDisconnected,
		},
		{
			ID:      ProviderLocalLLM,
			Name:    "Local LLM",
			Kind:    KindLocal,
			BaseURL: "http://localhost:5000/api",
			Models:  []string{"default"},
			Status:  StatusDisconnected,
		},
	}
}

// Registry is shared mutable state; all access goes through the mutex.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	order     []string
	store     Store
	logger    zerolog.Logger

	// recheck is invoked after SetBaseURL so the liveness detector can run
	// a one-shot probe against the new URL before the next scheduled poll.
	recheck func(providerID string)
}

type Config struct {
	Store  Store
	Logger zerolog.Logger
}

func New(cfg Config) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider),
		store:     cfg.Store,
		logger:    cfg.Logger.With().Str("component", "registry").Logger(),
	}
	for _, p := range defaults() {
		cp := p
		cp.Models = append([]string(nil), p.Models...)
		r.providers[p.ID] = &cp
		r.order = append(r.order, p.ID)
	}
	return r
}

// SetRecheckHook wires the liveness detector's one-shot probe. Must be
// called before any SetBaseURL.
func (r *Registry) SetRecheckHook(fn func(providerID string)) {
	r.mu.Lock()
	r.recheck = fn
	r.mu.Unlock()
}

func credentialKey(providerID string) string { return providerID + "_api_key" }
func baseURLKey(providerID string) string    { return providerID + "_base_url" }

// Credential reads through to the store; a stored value refreshes the
// cache. Storage failures degrade to the cached value.
func (r *Registry) Credential(ctx context.Context, providerID string) string {
	stored, found, err := r.store.Get(ctx, credentialKey(providerID))
	if err != nil {
		r.logger.Warn().Err(err).Str("provider", providerID).Msg("credential read failed, using cached value")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return ""
	}
	if err == nil && found {
		p.Credential = stored
	}
	return p.Credential
}

func (r *Registry) SetCredential(ctx context.Context, providerID, value string) {
	r.mu.Lock()
	if p, ok := r.providers[providerID]; ok {
		p.Credential = value
	}
	r.mu.Unlock()

	if err := r.store.Set(ctx, credentialKey(providerID), value); err != nil {
		r.logger.Warn().Err(err).Str("provider", providerID).Msg("credential write failed")
	}
}

func (r *Registry) BaseURL(ctx context.Context, providerID string) string {
	stored, found, err := r.store.Get(ctx, baseURLKey(providerID))
	if err != nil {
		r.logger.Warn().Err(err).Str("provider", providerID).Msg("base url read failed, using cached value")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return ""
	}
	if err == nil && found && stored != "" {
		p.BaseURL = stored
	}
	return p.BaseURL
}

// SetBaseURL persists the URL and triggers an immediate liveness re-check
// for local providers, since reachability depends on the endpoint.
func (r *Registry) SetBaseURL(ctx context.Context, providerID, url string) {
	r.mu.Lock()
	p, ok := r.providers[providerID]
	var local bool
	if ok {
		p.BaseURL = url
		local = p.Kind == KindLocal
	}
	recheck := r.recheck
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.store.Set(ctx, baseURLKey(providerID), url); err != nil {
		r.logger.Warn().Err(err).Str("provider", providerID).Msg("base url write failed")
	}
	if local && recheck != nil {
		recheck(providerID)
	}
}

// HasCredential reports availability: a stored non-empty key for cloud
// providers, current reachability for local ones.
func (r *Registry) HasCredential(ctx context.Context, providerID string) bool {
	r.mu.RLock()
	p, ok := r.providers[providerID]
	var kind Kind
	if ok {
		kind = p.Kind
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if kind == KindLocal {
		return r.StatusOf(providerID) == StatusConnected
	}
	return r.Credential(ctx, providerID) != ""
}

func (r *Registry) StatusOf(providerID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[providerID]; ok {
		return p.Status
	}
	return ""
}

// SetStatus is reserved for the liveness detector; no other component
// writes status directly.
func (r *Registry) SetStatus(providerID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[providerID]; ok && p.Kind == KindLocal {
		p.Status = status
	}
}

func (r *Registry) Models(providerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[providerID]; ok {
		return append([]string(nil), p.Models...)
	}
	return nil
}

// SetModels replaces a provider's model list; used by the detector when a
// local server reports its own inventory.
func (r *Registry) SetModels(providerID string, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[providerID]; ok {
		p.Models = append([]string(nil), models...)
	}
}

func (r *Registry) Kind(providerID string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[providerID]; ok {
		return p.Kind, true
	}
	return "", false
}

// Provider returns a snapshot copy; mutating it does not affect the table.
func (r *Registry) Provider(providerID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return Provider{}, false
	}
	cp := *p
	cp.Models = append([]string(nil), p.Models...)
	return cp, true
}

// Providers returns snapshots in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		p := r.providers[id]
		cp := *p
		cp.Models = append([]string(nil), p.Models...)
		out = append(out, cp)
	}
	return out
}

// LocalProviderIDs returns the ids the liveness detector must probe.
func (r *Registry) LocalProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, 3)
	for _, id := range r.order {
		if r.providers[id].Kind == KindLocal {
			out = append(out, id)
		}
	}
	return out
}
