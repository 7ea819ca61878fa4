// Package gemini adapts the Google Gen AI SDK to the embedding and generation ports.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	GenModel   string
	// Dimension requests a reduced embedding size; zero keeps the model default.
	Dimension int32
}

type Client struct {
	genAI *genai.Client
	cfg   Config
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	c, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{genAI: c, cfg: cfg}, nil
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
	return e.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: taskType}
	if e.client.cfg.Dimension > 0 {
		cfg.OutputDimensionality = &e.client.cfg.Dimension
	}

	result, err := e.client.genAI.Models.EmbedContent(ctx, e.client.cfg.EmbedModel, contents(texts), cfg)
	if err != nil {
		return nil, classifyError(domain.ErrEmbeddingService, "gemini embed", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, domain.WrapError(domain.ErrEmbeddingService, "gemini embed",
			fmt.Errorf("got %d embeddings for %d inputs", got, len(texts)))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, domain.WrapError(domain.ErrEmbeddingService, "gemini embed", fmt.Errorf("embedding %d is empty", i))
		}
		out[i] = emb.Values
	}
	return out, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	result, err := g.client.genAI.Models.GenerateContent(ctx, g.client.cfg.GenModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", classifyError(domain.ErrGenerationService, "gemini generate", err)
	}
	if result == nil {
		return "", domain.WrapError(domain.ErrGenerationService, "gemini generate", errors.New("empty response"))
	}
	return strings.TrimSpace(result.Text()), nil
}

func contents(texts []string) []*genai.Content {
	out := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		out = append(out, &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		})
	}
	return out
}

// classifyError maps SDK and transport errors onto domain kinds. The SDK
// reports HTTP failures as APIError; gRPC status codes cover proxied calls.
func classifyError(service error, operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.WrapKinds(operation, err, service)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		if s, ok := status.FromError(err); ok {
			code = httpStatusFromCode(s.Code())
		}
	}

	switch {
	case code == http.StatusTooManyRequests:
		return domain.WrapKinds(operation, err, service, domain.ErrRateLimited, domain.ErrTemporary)
	case code == http.StatusRequestTimeout || code >= 500:
		return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
	case code >= 400:
		return domain.WrapKinds(operation, err, service, domain.ErrMalformedRequest)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
	}
	return domain.WrapKinds(operation, err, service)
}

func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded:
		return http.StatusServiceUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated:
		return http.StatusBadRequest
	default:
		return 0
	}
}
