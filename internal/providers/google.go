package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"contxtd/internal/registry"
)

// Google targets the generateContent endpoint. The API has no system role
// and labels assistant turns "model", so system content becomes a synthetic
// leading user turn and assistant turns are relabeled.
type Google struct {
	registry *registry.Registry
	client   *http.Client
}

func NewGoogle(reg *registry.Registry, client *http.Client) *Google {
	return &Google{registry: reg, client: client}
}

var _ Adapter = (*Google)(nil)

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

func (a *Google) Chat(ctx context.Context, messages []Message, model string) (Response, error) {
	apiKey := a.registry.Credential(ctx, registry.ProviderGoogle)
	if strings.TrimSpace(apiKey) == "" {
		return Response{}, &MissingCredentialError{Provider: "Google AI"}
	}
	baseURL := strings.TrimRight(a.registry.BaseURL(ctx, registry.ProviderGoogle), "/")

	var systemParts []string
	contents := make([]googleContent, 0, len(messages)+1)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleAssistant:
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}
	if len(systemParts) > 0 {
		lead := googleContent{Role: "user", Parts: []googlePart{{Text: strings.Join(systemParts, "\n\n")}}}
		contents = append([]googleContent{lead}, contents...)
	}

	payload := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     defaultTemperature,
			"maxOutputTokens": defaultMaxTokens,
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, url.QueryEscape(apiKey))
	status, body, err := postJSON(ctx, a.client, endpoint, nil, payload)
	if err != nil {
		return Response{}, fmt.Errorf("google request: %w", err)
	}
	if !is2xx(status) {
		return Response{}, &UpstreamError{Provider: "Google AI", Status: status, Message: upstreamMessage(body)}
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []googlePart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode google response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Response{}, fmt.Errorf("empty candidates in google response")
	}

	out := Response{Content: parsed.Candidates[0].Content.Parts[0].Text, Model: model}
	if parsed.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}
