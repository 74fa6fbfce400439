package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"contxtd/internal/registry"
)

// OpenAI translates normalized messages to the chat completions API. The
// message array passes through role-for-role with no reordering.
type OpenAI struct {
	registry *registry.Registry
	client   *http.Client
}

func NewOpenAI(reg *registry.Registry, client *http.Client) *OpenAI {
	return &OpenAI{registry: reg, client: client}
}

var _ Adapter = (*OpenAI)(nil)

func (a *OpenAI) Chat(ctx context.Context, messages []Message, model string) (Response, error) {
	apiKey := a.registry.Credential(ctx, registry.ProviderOpenAI)
	if strings.TrimSpace(apiKey) == "" {
		return Response{}, &MissingCredentialError{Provider: "OpenAI"}
	}
	baseURL := strings.TrimRight(a.registry.BaseURL(ctx, registry.ProviderOpenAI), "/")

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": defaultTemperature,
		"max_tokens":  defaultMaxTokens,
	}
	status, body, err := postJSON(ctx, a.client, baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, payload)
	if err != nil {
		return Response{}, fmt.Errorf("openai request: %w", err)
	}
	if !is2xx(status) {
		return Response{}, &UpstreamError{Provider: "OpenAI", Status: status, Message: upstreamMessage(body)}
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("empty choices in openai response")
	}

	out := Response{Content: parsed.Choices[0].Message.Content, Model: model}
	if parsed.Model != "" {
		out.Model = parsed.Model
	}
	if parsed.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}
