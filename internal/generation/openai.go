// Package generation implements the Generation Client boundary: given a
// prompt and optional context strings, return generated text. The call is
// treated as an opaque, possibly failing remote; callers convert failures
// into user-safe messages.
package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are a marketing assistant. Ground your answers in the " +
	"provided company context when it is available, and say so when it is not."

type Client struct {
	client     *openai.Client
	model      string
	maxRetries int
	log        *zap.Logger
}

type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	MaxRetries int
}

// NewClient builds a chat-completion generator. A missing API key is a
// startup configuration failure, not something to discover mid-request.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	clientConfig := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		maxRetries: maxRetries,
		log:        log,
	}, nil
}

// Generate sends the prompt with the retrieved context folded into the
// system message. Retries use exponential backoff and respect ctx.
func (c *Client) Generate(ctx context.Context, prompt string, contextTexts []string) (string, error) {
	system := systemPrompt
	if len(contextTexts) > 0 {
		system += "\n\nCompany context:\n" + strings.Join(contextTexts, "\n---\n")
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		if !retryable(err) || attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.log.Warn("generation attempt failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures are worth one more attempt.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
