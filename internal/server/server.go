// Package server exposes the HTTP API: provider inventory and
// configuration, profile and prompt CRUD, and the chat endpoint that
// assembles context and dispatches to a provider.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"contxtd/internal/providers"
	"contxtd/internal/registry"
	"contxtd/internal/storage"
)

type Server struct {
	registry     *registry.Registry
	dispatcher   *providers.Dispatcher
	store        *storage.Store
	checkNow     func(providerID string)
	historyLimit int
	healthPath   string
	metricsPath  string
	logger       zerolog.Logger
}

type Config struct {
	Registry     *registry.Registry
	Dispatcher   *providers.Dispatcher
	Store        *storage.Store
	CheckNow     func(providerID string)
	HistoryLimit int
	HealthPath   string
	MetricsPath  string
	Logger       zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{
		registry:     cfg.Registry,
		dispatcher:   cfg.Dispatcher,
		store:        cfg.Store,
		checkNow:     cfg.CheckNow,
		historyLimit: cfg.HistoryLimit,
		healthPath:   cfg.HealthPath,
		metricsPath:  cfg.MetricsPath,
		logger:       cfg.Logger.With().Str("component", "server").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+s.healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+s.metricsPath, promhttp.Handler())

	mux.HandleFunc("GET /api/providers", s.listProviders)
	mux.HandleFunc("GET /api/providers/{id}", s.getProvider)
	mux.HandleFunc("PUT /api/providers/{id}/key", s.putProviderKey)
	mux.HandleFunc("PUT /api/providers/{id}/base_url", s.putProviderBaseURL)
	mux.HandleFunc("POST /api/providers/{id}/check", s.checkProvider)

	mux.HandleFunc("GET /api/profiles", s.listProfiles)
	mux.HandleFunc("POST /api/profiles", s.createProfile)
	mux.HandleFunc("GET /api/profiles/{id}", s.getProfile)
	mux.HandleFunc("PUT /api/profiles/{id}", s.updateProfile)
	mux.HandleFunc("DELETE /api/profiles/{id}", s.deleteProfile)

	mux.HandleFunc("GET /api/prompts", s.listPrompts)
	mux.HandleFunc("POST /api/prompts", s.createPrompt)
	mux.HandleFunc("DELETE /api/prompts/{id}", s.deletePrompt)

	mux.HandleFunc("GET /api/settings/current-model", s.getCurrentModel)
	mux.HandleFunc("PUT /api/settings/current-model", s.putCurrentModel)

	mux.HandleFunc("POST /api/chat", s.chat)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// maskKey keeps only a short suffix so a configured key is recognizable
// without being recoverable from the API.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

type providerView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Kind    registry.Kind   `json:"kind"`
	BaseURL string          `json:"base_url"`
	Models  []string        `json:"models"`
	Status  registry.Status `json:"status,omitempty"`
	APIKey  string          `json:"api_key,omitempty"`
	HasKey  bool            `json:"has_key"`
}

func (s *Server) providerView(r *http.Request, p registry.Provider) providerView {
	view := providerView{
		ID:      p.ID,
		Name:    p.Name,
		Kind:    p.Kind,
		BaseURL: s.registry.BaseURL(r.Context(), p.ID),
		Models:  p.Models,
		Status:  p.Status,
	}
	if p.Kind == registry.KindCloud {
		key := s.registry.Credential(r.Context(), p.ID)
		view.APIKey = maskKey(key)
		view.HasKey = key != ""
	} else {
		view.HasKey = p.Status == registry.StatusConnected
	}
	return view
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	all := s.registry.Providers()
	out := make([]providerView, 0, len(all))
	for _, p := range all {
		out = append(out, s.providerView(r, p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := s.registry.Provider(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	writeJSON(w, http.StatusOK, s.providerView(r, p))
}

func (s *Server) putProviderKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.registry.Provider(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	if p.Kind != registry.KindCloud {
		writeError(w, http.StatusBadRequest, "local providers have no API key")
		return
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.registry.SetCredential(r.Context(), id, strings.TrimSpace(body.APIKey))
	writeJSON(w, http.StatusOK, s.providerView(r, mustProvider(s.registry, id)))
}

func (s *Server) putProviderBaseURL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Provider(id); !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	var body struct {
		BaseURL string `json:"base_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	u := strings.TrimSpace(body.BaseURL)
	if u == "" {
		writeError(w, http.StatusBadRequest, "base_url is required")
		return
	}
	s.registry.SetBaseURL(r.Context(), id, u)
	writeJSON(w, http.StatusOK, s.providerView(r, mustProvider(s.registry, id)))
}

func (s *Server) checkProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kind, ok := s.registry.Kind(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	if kind != registry.KindLocal {
		writeError(w, http.StatusBadRequest, "only local providers are probed")
		return
	}
	if s.checkNow != nil {
		s.checkNow(id)
	}
	writeJSON(w, http.StatusOK, s.providerView(r, mustProvider(s.registry, id)))
}

func mustProvider(reg *registry.Registry, id string) registry.Provider {
	p, _ := reg.Provider(id)
	return p
}

type profilePayload struct {
	Name           string            `json:"name"`
	BusinessName   string            `json:"business_name"`
	Website        string            `json:"website"`
	Niche          string            `json:"niche"`
	Audience       string            `json:"audience"`
	Offer          string            `json:"offer"`
	Tone           string            `json:"tone"`
	ForbiddenWords []string          `json:"forbidden_words"`
	Features       []string          `json:"features"`
	Avatars        []storage.Avatar  `json:"avatars"`
	Goals          []string          `json:"goals"`
	SOPs           []string          `json:"sops"`
	CustomFields   map[string]string `json:"custom_fields"`
}

type profileView struct {
	ID int64 `json:"id"`
	profilePayload
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProfile(p profilePayload) storage.Profile {
	return storage.Profile{
		Name:           p.Name,
		BusinessName:   p.BusinessName,
		Website:        p.Website,
		Niche:          p.Niche,
		Audience:       p.Audience,
		Offer:          p.Offer,
		Tone:           p.Tone,
		ForbiddenWords: p.ForbiddenWords,
		Features:       p.Features,
		Avatars:        p.Avatars,
		Goals:          p.Goals,
		SOPs:           p.SOPs,
		CustomFields:   p.CustomFields,
	}
}

func toProfileView(p storage.Profile) profileView {
	return profileView{
		ID: p.ID,
		profilePayload: profilePayload{
			Name:           p.Name,
			BusinessName:   p.BusinessName,
			Website:        p.Website,
			Niche:          p.Niche,
			Audience:       p.Audience,
			Offer:          p.Offer,
			Tone:           p.Tone,
			ForbiddenWords: p.ForbiddenWords,
			Features:       p.Features,
			Avatars:        p.Avatars,
			Goals:          p.Goals,
			SOPs:           p.SOPs,
			CustomFields:   p.CustomFields,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.ListProfiles(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list profiles failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	out := make([]profileView, 0, len(all))
	for _, p := range all {
		out = append(out, toProfileView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var body profilePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := s.store.CreateProfile(r.Context(), toProfile(body))
	if err != nil {
		s.logger.Error().Err(err).Msg("create profile failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	created, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusCreated, toProfileView(created))
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(p))
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	var body profilePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p := toProfile(body)
	p.ID = id
	if err := s.store.UpdateProfile(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error().Err(err).Msg("update profile failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	updated, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(updated))
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	if err := s.store.DeleteProfile(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promptPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.ListPrompts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	type view struct {
		ID int64 `json:"id"`
		promptPayload
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]view, 0, len(all))
	for _, p := range all {
		out = append(out, view{
			ID:            p.ID,
			promptPayload: promptPayload{Title: p.Title, Body: p.Body, Category: p.Category},
			CreatedAt:     p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createPrompt(w http.ResponseWriter, r *http.Request) {
	var body promptPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.Body) == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}
	id, err := s.store.CreatePrompt(r.Context(), storage.Prompt{
		Title:    body.Title,
		Body:     body.Body,
		Category: body.Category,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) deletePrompt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prompt id")
		return
	}
	if err := s.store.DeletePrompt(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const currentModelKey = "current_model"

func (s *Server) getCurrentModel(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetSetting(r.Context(), currentModelKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"model": ""})
			return
		}
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"model": v})
}

func (s *Server) putCurrentModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.store.SetSetting(r.Context(), currentModelKey, body.Model); err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"model": body.Model})
}
