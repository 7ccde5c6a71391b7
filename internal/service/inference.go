package service

import (
	"context"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/llm"
)

type providerSelectionKey struct{}

// ProviderSelection names the provider to use for a call, plus per-call
// config such as a user-supplied API key.
type ProviderSelection struct {
	Name   string
	Config map[string]any
}

// WithProvider attaches a provider selection to the context. Inference calls
// under this context are routed to the named provider instead of the default.
func WithProvider(ctx context.Context, name string, config map[string]any) context.Context {
	return context.WithValue(ctx, providerSelectionKey{}, ProviderSelection{Name: name, Config: config})
}

func providerFromContext(ctx context.Context) ProviderSelection {
	if sel, ok := ctx.Value(providerSelectionKey{}).(ProviderSelection); ok {
		return sel
	}
	return ProviderSelection{}
}

// RouterInference adapts the provider router to the inference interface the
// session layer depends on. Provider choice rides on the context, so the
// session layer stays provider-agnostic.
type RouterInference struct {
	router *llm.Router
}

// NewRouterInference creates the adapter
func NewRouterInference(router *llm.Router) *RouterInference {
	return &RouterInference{router: router}
}

// Infer performs a chat completion through the selected provider
func (r *RouterInference) Infer(ctx context.Context, model string, maxCompletionTokens int, messages []domain.PromptMessage, additionalFields map[string]any) (*domain.InferenceResult, error) {
	sel := providerFromContext(ctx)

	provider, err := r.router.GetProviderWithConfig(sel.Name, sel.Config)
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = provider.DefaultModel()
	}

	req := llm.Request{
		MaxTokens: maxCompletionTokens,
		Extra:     additionalFields,
	}
	for _, m := range messages {
		if m.Role == string(domain.RoleSystem) {
			// Several system turns fold into one instruction block.
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := provider.Chat(ctx, req, model)
	if err != nil {
		return nil, err
	}

	return &domain.InferenceResult{
		Content:          resp.Content,
		ReasoningContent: resp.ReasoningContent,
		Model:            resp.Model,
		TokensUsed:       resp.TokensUsed,
		LatencyMs:        resp.LatencyMs,
	}, nil
}
