// Package openai is an OpenAI-compatible chat completions generator.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/retry"
)

// Config configures the chat client.
type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	Temperature       float64
	SystemInstruction string
	// JSONMode asks the server for a JSON object reply.
	JSONMode bool
}

// Client implements domain.Generator over /chat/completions.
type Client struct {
	cfg    Config
	apiKey string
	client *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, apiKey: key, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Client) Name() string { return "openai" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{Model: c.cfg.Model, Temperature: c.cfg.Temperature}
	if c.cfg.SystemInstruction != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: c.cfg.SystemInstruction})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt})
	if c.cfg.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &domain.ProviderError{Provider: "openai", Op: "generate", Temporary: true, Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ProviderError{Provider: "openai", Op: "generate", Temporary: true, Err: err}
	}
	if resp.StatusCode >= 300 {
		msg := string(payload)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", domain.NewHTTPProviderError("openai", "generate", resp.StatusCode,
			retry.ParseRetryAfter(resp.Header.Get("Retry-After")), errors.New(msg))
	}

	var out struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
		// Ollama /api/chat shape
		Message *message `json:"message"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &domain.ProviderError{Provider: "openai", Op: "generate", Err: fmt.Errorf("decode reply: %w", err)}
	}
	if len(out.Choices) > 0 && out.Choices[0].Message.Content != "" {
		return out.Choices[0].Message.Content, nil
	}
	if out.Message != nil && out.Message.Content != "" {
		return out.Message.Content, nil
	}
	return "", &domain.ProviderError{Provider: "openai", Op: "generate", Err: errors.New("no choices returned")}
}
