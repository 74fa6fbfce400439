package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateProfile(ctx, Profile{
		Name:           "Acme main",
		BusinessName:   "Acme",
		Website:        "https://acme.test",
		Niche:          "widgets",
		Tone:           "friendly",
		ForbiddenWords: []string{"cheap"},
		Avatars:        []Avatar{{Name: "Pat", Summary: "small shop owner"}},
		Goals:          []string{"grow email list"},
		CustomFields:   map[string]string{"region": "EU"},
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	got, err := s.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.BusinessName != "Acme" || got.Tone != "friendly" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if len(got.Avatars) != 1 || got.Avatars[0].Name != "Pat" {
		t.Fatalf("avatars not round-tripped: %+v", got.Avatars)
	}
	if got.CustomFields["region"] != "EU" {
		t.Fatalf("custom fields not round-tripped: %+v", got.CustomFields)
	}

	got.Tone = "direct"
	got.Goals = append(got.Goals, "launch course")
	if err := s.UpdateProfile(ctx, got); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got2, err := s.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got2.Tone != "direct" || len(got2.Goals) != 2 {
		t.Fatalf("update not persisted: %+v", got2)
	}

	if err := s.DeleteProfile(ctx, id); err != nil {
		t.Fatalf("delete profile: %v", err)
	}
	if _, err := s.GetProfile(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteProfile(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestEmptyListsRoundTripWithoutNulls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateProfile(ctx, Profile{Name: "bare"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	got, err := s.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.ForbiddenWords == nil || got.Avatars == nil {
		// json "[]" must decode to an empty slice, not nil
		t.Fatalf("expected empty slices, got %+v", got)
	}
}

func TestPromptLibrary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreatePrompt(ctx, Prompt{Title: "Hook", Body: "Write a hook for {topic}", Category: "copy"}); err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	id, err := s.CreatePrompt(ctx, Prompt{Title: "CTA", Body: "Write a call to action"})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}

	prompts, err := s.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("list prompts: %v", err)
	}
	if len(prompts) != 2 || prompts[0].Title != "Hook" {
		t.Fatalf("unexpected prompt list %+v", prompts)
	}

	if err := s.DeletePrompt(ctx, id); err != nil {
		t.Fatalf("delete prompt: %v", err)
	}
	if err := s.DeletePrompt(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentMessagesReturnsNewestOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := s.AppendMessage(ctx, ChatMessage{
			ProfileID: 7,
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
		})
		if err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}
	// another profile's turns must not leak in
	if err := s.AppendMessage(ctx, ChatMessage{ProfileID: 8, Role: "user", Content: "other"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	got, err := s.RecentMessages(ctx, 7, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(got))
	}
	if got[0].Content != "turn 5" || got[9].Content != "turn 14" {
		t.Fatalf("unexpected window: first=%q last=%q", got[0].Content, got[9].Content)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "current_model"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "current_model", "openai/gpt-4o"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := s.SetSetting(ctx, "current_model", "ollama/llama3"); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}
	v, err := s.GetSetting(ctx, "current_model")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if v != "ollama/llama3" {
		t.Fatalf("expected overwritten value, got %q", v)
	}
}
