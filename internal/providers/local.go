package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"contxtd/internal/registry"
)

// contentShape is one known reply layout for a local chat server. Shapes
// are tried in order and the first match wins, which tolerates minor server
// implementation variance without a rigid schema.
type contentShape struct {
	name    string
	extract func(body []byte) (string, bool)
}

func stringField(key string) contentShape {
	return contentShape{name: key, extract: func(body []byte) (string, bool) {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return "", false
		}
		raw, ok := m[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, strings.TrimSpace(s) != ""
	}}
}

// messageContentShape matches ollama's {"message": {"content": ...}} reply.
var messageContentShape = contentShape{name: "message.content", extract: func(body []byte) (string, bool) {
	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	return parsed.Message.Content, strings.TrimSpace(parsed.Message.Content) != ""
}}

// Local is the shared adapter for the three local HTTP server conventions;
// they differ only in provider identity and accepted reply shapes.
type Local struct {
	providerID string
	registry   *registry.Registry
	client     *http.Client
	shapes     []contentShape
}

func NewOllama(reg *registry.Registry, client *http.Client) *Local {
	return &Local{
		providerID: registry.ProviderOllama,
		registry:   reg,
		client:     client,
		shapes:     []contentShape{messageContentShape, stringField("response")},
	}
}

func NewGeminiCLI(reg *registry.Registry, client *http.Client) *Local {
	return &Local{
		providerID: registry.ProviderGeminiCLI,
		registry:   reg,
		client:     client,
		shapes:     []contentShape{stringField("content"), stringField("response"), stringField("message"), stringField("text")},
	}
}

func NewLocalLLM(reg *registry.Registry, client *http.Client) *Local {
	return &Local{
		providerID: registry.ProviderLocalLLM,
		registry:   reg,
		client:     client,
		shapes:     []contentShape{stringField("content"), stringField("response"), stringField("message"), stringField("text")},
	}
}

var _ Adapter = (*Local)(nil)

func (a *Local) Chat(ctx context.Context, messages []Message, model string) (Response, error) {
	snapshot, ok := a.registry.Provider(a.providerID)
	if !ok {
		return Response{}, &UnsupportedProviderError{Provider: a.providerID}
	}
	baseURL := strings.TrimRight(a.registry.BaseURL(ctx, a.providerID), "/")

	// Fail fast on the last known probe result instead of waiting for a
	// connection attempt to confirm what the status already implies.
	if snapshot.Status != registry.StatusConnected {
		return Response{}, &ProviderUnreachableError{Provider: snapshot.Name, BaseURL: baseURL}
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	status, body, err := postJSON(ctx, a.client, baseURL+"/chat", nil, payload)
	if err != nil {
		return Response{}, &ConnectionFailedError{Provider: snapshot.Name, BaseURL: baseURL, Err: err}
	}
	if !is2xx(status) {
		return Response{}, &ConnectionFailedError{
			Provider: snapshot.Name,
			BaseURL:  baseURL,
			Err:      fmt.Errorf("status %d", status),
		}
	}

	for _, shape := range a.shapes {
		if content, ok := shape.extract(body); ok {
			return Response{Content: content, Model: model}, nil
		}
	}
	return Response{}, fmt.Errorf("%s response has no recognized content field", snapshot.Name)
}
