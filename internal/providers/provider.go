// Package providers contains the normalized chat types, the per-provider
// request/response adapters, and the dispatcher that routes a chat call to
// the adapter registered for a provider id.
package providers

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a provider-agnostic conversation turn. Ordering defines the
// conversation; there is no uniqueness constraint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized chat completion shape returned by every adapter.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Adapter translates a normalized message list into one provider's wire
// format and back. Implementations check their own preconditions (stored
// credential for cloud providers, liveness for local ones) before touching
// the network.
type Adapter interface {
	Chat(ctx context.Context, messages []Message, model string) (Response, error)
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)
