package service

import (
	"context"
	"testing"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records the last chat request it received
type fakeProvider struct {
	name    string
	lastReq llm.Request
	lastKey string
	resp    llm.Response
}

func (p *fakeProvider) Name() string              { return p.name }
func (p *fakeProvider) AvailableModels() []string { return []string{"model-a"} }
func (p *fakeProvider) DefaultModel() string      { return "model-a" }
func (p *fakeProvider) IsConfigured() bool        { return true }

func (p *fakeProvider) Chat(_ context.Context, req llm.Request, model string) (*llm.Response, error) {
	p.lastReq = req
	resp := p.resp
	resp.Model = model
	return &resp, nil
}

func TestRouterInference_DefaultProvider(t *testing.T) {
	provider := &fakeProvider{name: "ollama", resp: llm.Response{Content: "hi", TokensUsed: 7}}
	router := llm.NewRouter("ollama")
	router.RegisterProvider(provider)

	infer := NewRouterInference(router)
	result, err := infer.Infer(context.Background(), "model-a", 128, []domain.PromptMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "hi", result.Content)
	assert.Equal(t, 7, result.TokensUsed)
	assert.Equal(t, "model-a", result.Model)

	// System turns are lifted out of the message list
	assert.Equal(t, "be brief", provider.lastReq.System)
	require.Len(t, provider.lastReq.Messages, 1)
	assert.Equal(t, "hello", provider.lastReq.Messages[0].Content)
	assert.Equal(t, 128, provider.lastReq.MaxTokens)
}

func TestRouterInference_ConcatenatesSystemTurns(t *testing.T) {
	provider := &fakeProvider{name: "ollama", resp: llm.Response{Content: "ok"}}
	router := llm.NewRouter("ollama")
	router.RegisterProvider(provider)

	infer := NewRouterInference(router)
	_, err := infer.Infer(context.Background(), "model-a", 64, []domain.PromptMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
		{Role: "system", Content: "answer in French"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "be brief\n\nanswer in French", provider.lastReq.System)
	require.Len(t, provider.lastReq.Messages, 1)
	assert.Equal(t, "hello", provider.lastReq.Messages[0].Content)
}

func TestRouterInference_ContextSelectsProvider(t *testing.T) {
	defaultProvider := &fakeProvider{name: "ollama", resp: llm.Response{Content: "default"}}
	router := llm.NewRouter("ollama")
	router.RegisterProvider(defaultProvider)

	var factoryProvider *fakeProvider
	router.RegisterFactory("deepseek", func(config map[string]any) (llm.Provider, error) {
		factoryProvider = &fakeProvider{name: "deepseek", resp: llm.Response{Content: "routed"}}
		if key, ok := config["api_key"].(string); ok {
			factoryProvider.lastKey = key
		}
		return factoryProvider, nil
	})

	infer := NewRouterInference(router)
	ctx := WithProvider(context.Background(), "deepseek", map[string]any{"api_key": "sk-user"})

	result, err := infer.Infer(ctx, "model-a", 64, []domain.PromptMessage{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "routed", result.Content)
	require.NotNil(t, factoryProvider)
	assert.Equal(t, "sk-user", factoryProvider.lastKey)
}

func TestRouterInference_UnknownProvider(t *testing.T) {
	router := llm.NewRouter("ollama")
	infer := NewRouterInference(router)

	_, err := infer.Infer(context.Background(), "model-a", 64, nil, nil)
	assert.Error(t, err)
}

func TestRouterInference_EmptyModelUsesProviderDefault(t *testing.T) {
	provider := &fakeProvider{name: "ollama", resp: llm.Response{Content: "hi"}}
	router := llm.NewRouter("ollama")
	router.RegisterProvider(provider)

	infer := NewRouterInference(router)
	result, err := infer.Infer(context.Background(), "", 64, []domain.PromptMessage{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "model-a", result.Model)
}
