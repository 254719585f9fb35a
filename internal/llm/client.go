package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/laytan/pind/internal/retry"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var ErrEmptyResponse = errors.New("model returned no choices")

// Completer sends one system + user prompt and returns the raw text answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client talks to any OpenAI compatible chat endpoint, Gemini's by default.
type Client struct {
	API     *openai.Client
	Model   string
	Timeout time.Duration
	Retry   retry.Config
	Log     logrus.FieldLogger
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration, log logrus.FieldLogger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Client{
		API:     openai.NewClientWithConfig(cfg),
		Model:   model,
		Timeout: timeout,
		Retry:   retry.Default,
		Log:     log,
	}
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	// Retried like a read, a completion changes nothing server side.
	return retry.Do(ctx, c.Retry, c.Log, func(ctx context.Context) (string, error) {
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}

		res, err := c.API.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classify(err)
		}

		if len(res.Choices) == 0 {
			return "", ErrEmptyResponse
		}

		return res.Choices[0].Message.Content, nil
	})
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retry.RetryableStatus(apiErr.HTTPStatusCode) {
		return fmt.Errorf("chat completion: %w: %w", retry.ErrTransient, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retry.RetryableStatus(reqErr.HTTPStatusCode) {
		return fmt.Errorf("chat completion: %w: %w", retry.ErrTransient, err)
	}

	return fmt.Errorf("chat completion: %w", err)
}
