package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"contxtd/internal/providers"
	"contxtd/internal/registry"
	"contxtd/internal/storage"
)

type testEnv struct {
	handler  http.Handler
	registry *registry.Registry
	store    *storage.Store
	checked  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reg := registry.New(registry.Config{
		Store:  registry.NewRedisStore(rdb, nil, "test:"),
		Logger: zerolog.Nop(),
	})

	store, err := storage.Open(context.Background(), "sqlite", ":memory:", true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{registry: reg, store: store}
	srv := New(Config{
		Registry:   reg,
		Dispatcher: providers.NewDispatcher(providers.DispatcherConfig{Registry: reg, Logger: zerolog.Nop()}),
		Store:      store,
		CheckNow:   func(id string) { env.checked = append(env.checked, id) },
		Logger:     zerolog.Nop(),
	})
	reg.SetRecheckHook(func(id string) { env.checked = append(env.checked, id) })
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestListProvidersAndKeyMasking(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list providers: status %d", rec.Code)
	}
	list := decodeJSON[[]providerView](t, rec)
	if len(list) != 6 {
		t.Fatalf("expected 6 providers, got %d", len(list))
	}

	rec = env.do(t, http.MethodPut, "/api/providers/openai/key", map[string]string{"api_key": "sk-secret-12345"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put key: status %d body %s", rec.Code, rec.Body.String())
	}
	view := decodeJSON[providerView](t, rec)
	if !view.HasKey {
		t.Fatal("expected has_key after setting a credential")
	}
	if view.APIKey != "****2345" {
		t.Fatalf("expected masked key, got %q", view.APIKey)
	}
	if strings.Contains(rec.Body.String(), "sk-secret-12345") {
		t.Fatal("raw credential leaked in response")
	}
}

func TestPutProviderKeyRejectsLocal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/api/providers/ollama/key", map[string]string{"api_key": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPutBaseURLTriggersRecheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/providers/ollama/base_url", map[string]string{"base_url": "http://127.0.0.1:9999/api"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put base_url: status %d body %s", rec.Code, rec.Body.String())
	}
	if len(env.checked) != 1 || env.checked[0] != "ollama" {
		t.Fatalf("expected one recheck for ollama, got %v", env.checked)
	}

	view := decodeJSON[providerView](t, rec)
	if view.BaseURL != "http://127.0.0.1:9999/api" {
		t.Fatalf("base url not applied, got %q", view.BaseURL)
	}
}

func TestCheckProviderEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/providers/openai/check", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cloud check should be rejected, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/providers/local_llm/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("local check: status %d", rec.Code)
	}
	if len(env.checked) != 1 || env.checked[0] != "local_llm" {
		t.Fatalf("expected one check for local_llm, got %v", env.checked)
	}
}

func TestProfileCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/profiles", profilePayload{
		Name:         "Acme main",
		BusinessName: "Acme",
		Tone:         "friendly",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create profile: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[profileView](t, rec)
	if created.ID == 0 || created.BusinessName != "Acme" {
		t.Fatalf("unexpected created profile %+v", created)
	}

	path := fmt.Sprintf("/api/profiles/%d", created.ID)
	created.Tone = "direct"
	rec = env.do(t, http.MethodPut, path, created.profilePayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, path, nil)
	got := decodeJSON[profileView](t, rec)
	if got.Tone != "direct" {
		t.Fatalf("update not visible, got %+v", got)
	}

	rec = env.do(t, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete profile: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCurrentModelSetting(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings/current-model", nil)
	if got := decodeJSON[map[string]string](t, rec); got["model"] != "" {
		t.Fatalf("expected empty model before set, got %q", got["model"])
	}

	env.do(t, http.MethodPut, "/api/settings/current-model", map[string]string{"model": "ollama/llama3"})
	rec = env.do(t, http.MethodGet, "/api/settings/current-model", nil)
	if got := decodeJSON[map[string]string](t, rec); got["model"] != "ollama/llama3" {
		t.Fatalf("expected persisted model, got %q", got["model"])
	}
}

func TestChatUnknownProviderRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat", chatRequest{
		Provider: "unknown-provider",
		Model:    "any",
		Message:  "hi",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestChatPersistsAssistantTurnWhenUserInsertFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"still here"}}`))
	}))
	defer upstream.Close()

	env.registry.SetBaseURL(ctx, registry.ProviderOllama, upstream.URL+"/api")
	env.registry.SetStatus(registry.ProviderOllama, registry.StatusConnected)

	// Make only user-turn inserts fail.
	_, err := env.store.DB().ExecContext(ctx, `
CREATE TRIGGER block_user_turns BEFORE INSERT ON messages
WHEN NEW.role = 'user'
BEGIN
    SELECT RAISE(ABORT, 'user turns blocked');
END;`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/chat", chatRequest{
		Provider: registry.ProviderOllama,
		Model:    "llama3",
		Message:  "hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d body %s", rec.Code, rec.Body.String())
	}

	history, err := env.store.RecentMessages(ctx, 0, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(history) != 1 || history[0].Role != providers.RoleAssistant {
		t.Fatalf("assistant turn must persist despite the user-turn failure, got %+v", history)
	}
	if history[0].Content != "still here" {
		t.Fatalf("unexpected persisted content %q", history[0].Content)
	}
}

func TestChatInjectsProfileAndPersistsTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"message":{"content":"assistant says hi"}}`))
	}))
	defer upstream.Close()

	env.registry.SetBaseURL(ctx, registry.ProviderOllama, upstream.URL+"/api")
	env.registry.SetStatus(registry.ProviderOllama, registry.StatusConnected)

	profileID, err := env.store.CreateProfile(ctx, storage.Profile{Name: "main", BusinessName: "Acme"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/chat", chatRequest{
		ProfileID: profileID,
		Provider:  registry.ProviderOllama,
		Model:     "llama3",
		Message:   "write a tagline",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[chatResponse](t, rec)
	if resp.Content != "assistant says hi" {
		t.Fatalf("unexpected content %q", resp.Content)
	}

	var payload struct {
		Messages []providers.Message `json:"messages"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode upstream body: %v", err)
	}
	if len(payload.Messages) < 2 || payload.Messages[0].Role != providers.RoleSystem {
		t.Fatalf("expected leading system message, got %+v", payload.Messages)
	}
	sys := payload.Messages[0].Content
	if !strings.Contains(sys, "Acme") || !strings.Contains(sys, "Not specified") {
		t.Fatalf("system message missing profile content:\n%s", sys)
	}

	history, err := env.store.RecentMessages(ctx, profileID, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(history))
	}
	if history[0].Role != providers.RoleUser || history[1].Role != providers.RoleAssistant {
		t.Fatalf("unexpected turn order %+v", history)
	}
}
