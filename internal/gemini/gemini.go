// Package gemini adapts the Google Generative AI client to the embedding and
// generation ports.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trialwhisperer/internal/domain"
)

const (
	DefaultChatModel      = "gemini-1.5-flash-latest"
	DefaultEmbeddingModel = "text-embedding-004"
)

// Config selects models and credentials.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int32
}

// Client owns a genai client shared by the embedder and generator.
type Client struct {
	client *genai.Client
	cfg    Config
}

// NewClient dials the Generative Language API.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing gemini API key")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.client.Close() }

// Embedder implements domain.Embedder.
type Embedder struct {
	c *Client

	mu        sync.RWMutex
	dimension int
}

// Embedder returns an embedder backed by the configured embedding model.
func (c *Client) Embedder() *Embedder { return &Embedder{c: c} }

func (e *Embedder) Name() string { return "gemini" }

func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.c.client.EmbeddingModel(e.c.cfg.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classify("embed", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &domain.ProviderError{Provider: "gemini", Op: "embed", Err: errors.New("no embedding data received")}
	}
	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(res.Embedding.Values)
	}
	e.mu.Unlock()
	return res.Embedding.Values, nil
}

// Generator implements domain.Generator.
type Generator struct {
	c                 *Client
	systemInstruction string
}

// Generator returns a text generator using systemInstruction for every call.
func (c *Client) Generator(systemInstruction string) *Generator {
	return &Generator{c: c, systemInstruction: systemInstruction}
}

func (g *Generator) Name() string { return "gemini" }

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.c.client.GenerativeModel(g.c.cfg.ChatModel)
	if g.systemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(g.systemInstruction)},
		}
	}
	temp := g.c.cfg.Temperature
	cfg := genai.GenerationConfig{Temperature: &temp}
	if g.c.cfg.MaxTokens > 0 {
		maxTokens := g.c.cfg.MaxTokens
		cfg.MaxOutputTokens = &maxTokens
	}
	model.GenerationConfig = cfg

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify("generate", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &domain.ProviderError{Provider: "gemini", Op: "generate", Err: errors.New("empty response")}
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	if out.Len() == 0 {
		return "", &domain.ProviderError{Provider: "gemini", Op: "generate", Err: errors.New("no text parts")}
	}
	return out.String(), nil
}

// classify wraps err as a ProviderError, marking gRPC and HTTP codes that
// are worth retrying as temporary.
func classify(op string, err error) error {
	pe := &domain.ProviderError{Provider: "gemini", Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe.StatusCode = gerr.Code
		pe.Temporary = gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
		return pe
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		pe.Temporary = true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe.Temporary = true
	}
	return pe
}
