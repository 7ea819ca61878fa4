// Package ollama talks to a local Ollama server for embeddings and completions.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

// Client holds the connection settings shared by Embedder and Generator.
// Per-call deadlines come from the caller's context.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	keepAlive  string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithKeepAlive sets how long Ollama keeps the models loaded after a call ("5m", "-1").
func WithKeepAlive(d string) Option {
	return func(c *Client) {
		c.keepAlive = strings.TrimSpace(d)
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 10 * time.Minute,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	KeepAlive string           `json:"keep_alive,omitempty"`
	Options   *generateOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// Embed returns one vector per text in input order. It never retries.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embedRequest{
		Model:     e.client.embedModel,
		Input:     texts,
		Truncate:  true,
		KeepAlive: e.client.keepAlive,
	}
	var resp embedResponse
	if err := e.client.call(ctx, "/api/embed", "embed", req, &resp); err != nil {
		return nil, classifyError(domain.ErrEmbeddingService, "ollama embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "ollama embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
	}
	return resp.Embeddings, nil
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

// Generate completes prompt. maxTokens caps the output length; zero keeps the model default.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := generateRequest{
		Model:     g.client.genModel,
		Prompt:    prompt,
		KeepAlive: g.client.keepAlive,
	}
	if maxTokens > 0 {
		req.Options = &generateOptions{NumPredict: maxTokens}
	}

	var resp generateResponse
	if err := g.client.call(ctx, "/api/generate", "generate", req, &resp); err != nil {
		return "", classifyError(domain.ErrGenerationService, "ollama generate", err)
	}
	if resp.DoneReason == "length" {
		slog.WarnContext(ctx, "ollama_generation_truncated", "model", g.client.genModel, "max_tokens", maxTokens)
	}
	return strings.TrimSpace(resp.Response), nil
}
