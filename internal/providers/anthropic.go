package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"contxtd/internal/registry"
)

const anthropicVersion = "2023-06-01"

// Anthropic hoists system-role content out of the message array into the
// top-level system field, per the messages API schema.
type Anthropic struct {
	registry *registry.Registry
	client   *http.Client
}

func NewAnthropic(reg *registry.Registry, client *http.Client) *Anthropic {
	return &Anthropic{registry: reg, client: client}
}

var _ Adapter = (*Anthropic)(nil)

func (a *Anthropic) Chat(ctx context.Context, messages []Message, model string) (Response, error) {
	apiKey := a.registry.Credential(ctx, registry.ProviderAnthropic)
	if strings.TrimSpace(apiKey) == "" {
		return Response{}, &MissingCredentialError{Provider: "Anthropic"}
	}
	baseURL := strings.TrimRight(a.registry.BaseURL(ctx, registry.ProviderAnthropic), "/")

	var systemParts []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	payload := map[string]any{
		"model":      model,
		"max_tokens": defaultMaxTokens,
		"messages":   turns,
	}
	if len(systemParts) > 0 {
		payload["system"] = strings.Join(systemParts, "\n\n")
	}
	status, body, err := postJSON(ctx, a.client, baseURL+"/messages", map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicVersion,
	}, payload)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request: %w", err)
	}
	if !is2xx(status) {
		return Response{}, &UpstreamError{Provider: "Anthropic", Status: status, Message: upstreamMessage(body)}
	}

	var parsed struct {
		Model   string `json:"model"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return Response{}, fmt.Errorf("empty content in anthropic response")
	}

	out := Response{Content: parsed.Content[0].Text, Model: model}
	if parsed.Model != "" {
		out.Model = parsed.Model
	}
	if parsed.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
	}
	return out, nil
}
