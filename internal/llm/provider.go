// Package llm is the narrow seam between summarization and an
// OpenAI-compatible chat endpoint.
package llm

import (
	"context"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the subset of the go-openai client the summarizer needs, so
// local OpenAI-compatible servers and test fakes can stand in.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is implemented by providers that can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to Client and ModelLister.
type OpenAIProvider struct {
	Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}

// New returns a provider for baseURL. An empty baseURL uses the OpenAI API;
// httpClient may be nil.
func New(baseURL, apiKey string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
}
