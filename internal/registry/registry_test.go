package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(Config{
		Store:  NewRedisStore(rdb, nil, "test:"),
		Logger: zerolog.Nop(),
	}), mr
}

func TestHasCredentialCloud(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if r.HasCredential(ctx, ProviderOpenAI) {
		t.Fatal("expected no credential before set")
	}

	r.SetCredential(ctx, ProviderOpenAI, "sk-test")
	if !r.HasCredential(ctx, ProviderOpenAI) {
		t.Fatal("expected credential after set")
	}
	if got := r.Credential(ctx, ProviderOpenAI); got != "sk-test" {
		t.Fatalf("expected sk-test, got %q", got)
	}

	r.SetCredential(ctx, ProviderOpenAI, "")
	if r.HasCredential(ctx, ProviderOpenAI) {
		t.Fatal("expected no credential after clearing")
	}
}

func TestHasCredentialLocalFollowsStatus(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if r.HasCredential(ctx, ProviderOllama) {
		t.Fatal("disconnected local provider must not report a credential")
	}
	r.SetStatus(ProviderOllama, StatusConnected)
	if !r.HasCredential(ctx, ProviderOllama) {
		t.Fatal("connected local provider must report a credential")
	}
}

func TestCredentialReadThrough(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	// Simulate another process writing the store directly.
	mr.Set("test:"+credentialKey(ProviderAnthropic), "sk-ant-external")

	if got := r.Credential(ctx, ProviderAnthropic); got != "sk-ant-external" {
		t.Fatalf("expected read-through value, got %q", got)
	}
}

func TestSetBaseURLTriggersRecheck(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var rechecked []string
	r.SetRecheckHook(func(id string) { rechecked = append(rechecked, id) })

	r.SetBaseURL(ctx, ProviderOllama, "http://localhost:9999/api")
	if got := r.BaseURL(ctx, ProviderOllama); got != "http://localhost:9999/api" {
		t.Fatalf("expected new base url, got %q", got)
	}
	if len(rechecked) != 1 || rechecked[0] != ProviderOllama {
		t.Fatalf("expected one recheck for ollama, got %v", rechecked)
	}

	// Cloud providers keep their fixed URL semantics and never recheck.
	r.SetBaseURL(ctx, ProviderOpenAI, "https://proxy.example.com/v1")
	if len(rechecked) != 1 {
		t.Fatalf("cloud base url change must not recheck, got %v", rechecked)
	}
}

func TestKindImmutableAndStatusOnlyLocal(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.SetStatus(ProviderOpenAI, StatusConnected)
	if got := r.StatusOf(ProviderOpenAI); got != "" {
		t.Fatalf("cloud provider must not carry status, got %q", got)
	}

	kind, ok := r.Kind(ProviderOllama)
	if !ok || kind != KindLocal {
		t.Fatalf("expected local kind for ollama, got %q", kind)
	}
}

func TestProvidersSnapshotIsolated(t *testing.T) {
	r, _ := newTestRegistry(t)

	snap := r.Providers()
	if len(snap) != 6 {
		t.Fatalf("expected 6 providers, got %d", len(snap))
	}
	snap[0].Models[0] = "mutated"
	if r.Models(snap[0].ID)[0] == "mutated" {
		t.Fatal("snapshot mutation leaked into registry")
	}
}
