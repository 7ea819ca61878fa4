// Package openai adapts OpenAI-compatible APIs (OpenAI, vLLM, LM Studio) to
// the embedding and generation ports.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	GenModel   string
}

type Client struct {
	api openai.Client
	cfg Config
}

// New builds a client with SDK retries disabled; retry policy belongs to the caller.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	return &Client{api: openai.NewClient(opts...), cfg: cfg}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.client.cfg.EmbedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classifyError(domain.ErrEmbeddingService, "openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "openai embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.client.cfg.GenModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := g.client.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(domain.ErrGenerationService, "openai generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrGenerationService, "openai generate", errors.New("response has no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyError(service error, operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.WrapKinds(operation, err, service)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return domain.WrapKinds(operation, err, service, domain.ErrRateLimited, domain.ErrTemporary)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500:
			return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
		default:
			return domain.WrapKinds(operation, err, service, domain.ErrMalformedRequest)
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
	}
	return domain.WrapKinds(operation, err, service)
}
