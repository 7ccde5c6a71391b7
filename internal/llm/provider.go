package llm

import "context"

// Message is a single chat turn sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains chat completion parameters
type Request struct {
	Messages  []Message
	System    string
	MaxTokens int
	// Extra carries provider-specific fields passed through verbatim
	Extra map[string]any
}

// Response contains a chat completion result
type Response struct {
	Content          string
	ReasoningContent string
	Model            string
	TokensUsed       int
	LatencyMs        int64
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// AvailableModels returns list of supported models
	AvailableModels() []string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Chat performs a chat completion
	Chat(ctx context.Context, req Request, model string) (*Response, error)
}

// ProviderFactory creates a new provider instance from per-call config
// (e.g. a user-supplied API key)
type ProviderFactory func(config map[string]any) (Provider, error)
